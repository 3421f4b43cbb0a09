package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/pkg/codecs/h265"
)

// Bitstream packaging helpers for AVC and HEVC: Annex B start-code streams
// versus length-prefixed access units with out-of-band parameter sets
// (avcC / hvcC descriptions).

// splitNALUs returns the NAL units of an access unit in either packaging.
func splitNALUs(au []byte, lengthPrefixed bool) ([][]byte, error) {
	if !lengthPrefixed {
		var annexB h264.AnnexB
		if err := annexB.Unmarshal(au); err != nil {
			return nil, err
		}
		return annexB, nil
	}
	var nalus [][]byte
	for len(au) > 0 {
		if len(au) < 4 {
			return nil, fmt.Errorf("truncated length prefix")
		}
		size := int(binary.BigEndian.Uint32(au))
		au = au[4:]
		if size <= 0 || size > len(au) {
			return nil, fmt.Errorf("NAL length %d exceeds remaining %d bytes", size, len(au))
		}
		nalus = append(nalus, au[:size])
		au = au[size:]
	}
	return nalus, nil
}

// annexBToLengthPrefixed converts a start-code access unit to 4-byte length
// prefixes, dropping AUDs and in-band parameter sets (they live in the
// description).
func annexBToLengthPrefixed(au []byte, hevc bool) ([]byte, error) {
	nalus, err := splitNALUs(au, false)
	if err != nil {
		return nil, err
	}
	var out []byte
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		if hevc {
			switch h265.NALUType((nalu[0] >> 1) & 0x3F) {
			case h265.NALUType_VPS_NUT, h265.NALUType_SPS_NUT, h265.NALUType_PPS_NUT, h265.NALUType_AUD_NUT:
				continue
			}
		} else {
			switch h264.NALUType(nalu[0] & 0x1F) {
			case h264.NALUTypeSPS, h264.NALUTypePPS, h264.NALUTypeAccessUnitDelimiter:
				continue
			}
		}
		var size [4]byte
		binary.BigEndian.PutUint32(size[:], uint32(len(nalu)))
		out = append(out, size[:]...)
		out = append(out, nalu...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("access unit carried only parameter sets")
	}
	return out, nil
}

// avcDecoderConfig assembles an AVCDecoderConfigurationRecord from the
// Annex B parameter sets the backend exposes as extradata.
func avcDecoderConfig(extradata []byte) ([]byte, error) {
	nalus, err := splitNALUs(extradata, false)
	if err != nil {
		return nil, err
	}
	var spsList, ppsList [][]byte
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			spsList = append(spsList, nalu)
		case h264.NALUTypePPS:
			ppsList = append(ppsList, nalu)
		}
	}
	if len(spsList) == 0 || len(ppsList) == 0 {
		return nil, fmt.Errorf("extradata carries no SPS/PPS")
	}
	sps := spsList[0]
	if len(sps) < 4 {
		return nil, fmt.Errorf("SPS too short: %d bytes", len(sps))
	}

	out := []byte{
		1,      // configurationVersion
		sps[1], // AVCProfileIndication
		sps[2], // profile_compatibility
		sps[3], // AVCLevelIndication
		0xFF,   // lengthSizeMinusOne = 3
		0xE0 | byte(len(spsList)),
	}
	for _, s := range spsList {
		out = binary.BigEndian.AppendUint16(out, uint16(len(s)))
		out = append(out, s...)
	}
	out = append(out, byte(len(ppsList)))
	for _, p := range ppsList {
		out = binary.BigEndian.AppendUint16(out, uint16(len(p)))
		out = append(out, p...)
	}
	return out, nil
}

// avcCodedSize reads the coded dimensions off the first SPS in an Annex B
// extradata blob; returns ok == false when no SPS parses.
func avcCodedSize(extradata []byte) (width, height int, ok bool) {
	nalus, err := splitNALUs(extradata, false)
	if err != nil {
		return 0, 0, false
	}
	for _, nalu := range nalus {
		if len(nalu) == 0 || h264.NALUType(nalu[0]&0x1F) != h264.NALUTypeSPS {
			continue
		}
		sps, err := avc.ParseSPSNALUnit(nalu, true)
		if err != nil {
			continue
		}
		return int(sps.Width), int(sps.Height), true
	}
	return 0, 0, false
}

// hevcDecoderConfig assembles an HEVCDecoderConfigurationRecord from Annex B
// parameter sets. The general profile/tier/level header is lifted straight
// from the SPS bytes: the 12-byte profile_tier_level starts at the fourth
// byte of the SPS NAL.
func hevcDecoderConfig(extradata []byte) ([]byte, error) {
	nalus, err := splitNALUs(extradata, false)
	if err != nil {
		return nil, err
	}
	var vpsList, spsList, ppsList [][]byte
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch h265.NALUType((nalu[0] >> 1) & 0x3F) {
		case h265.NALUType_VPS_NUT:
			vpsList = append(vpsList, nalu)
		case h265.NALUType_SPS_NUT:
			spsList = append(spsList, nalu)
		case h265.NALUType_PPS_NUT:
			ppsList = append(ppsList, nalu)
		}
	}
	if len(spsList) == 0 || len(ppsList) == 0 {
		return nil, fmt.Errorf("extradata carries no SPS/PPS")
	}
	sps := spsList[0]
	if len(sps) < 15 {
		return nil, fmt.Errorf("SPS too short: %d bytes", len(sps))
	}
	ptl := sps[3:15]

	out := []byte{1}     // configurationVersion
	out = append(out, ptl[0])      // profile_space|tier|profile_idc
	out = append(out, ptl[1:5]...) // profile_compatibility_flags
	out = append(out, ptl[5:11]...) // constraint_indicator_flags
	out = append(out, ptl[11])     // level_idc
	out = append(out,
		0xF0, 0x00, // min_spatial_segmentation_idc
		0xFC,       // parallelismType
		0xFC|1,     // chromaFormat 4:2:0
		0xF8,       // bitDepthLumaMinus8
		0xF8,       // bitDepthChromaMinus8
		0x00, 0x00, // avgFrameRate
		(1<<3)|(1<<2)|3, // numTemporalLayers=1, temporalIdNested, lengthSizeMinusOne=3
	)

	arrays := [][2]any{}
	if len(vpsList) > 0 {
		arrays = append(arrays, [2]any{byte(h265.NALUType_VPS_NUT), vpsList})
	}
	arrays = append(arrays,
		[2]any{byte(h265.NALUType_SPS_NUT), spsList},
		[2]any{byte(h265.NALUType_PPS_NUT), ppsList})

	out = append(out, byte(len(arrays)))
	for _, a := range arrays {
		naluType := a[0].(byte)
		list := a[1].([][]byte)
		out = append(out, 0x80|naluType) // array_completeness=1
		out = binary.BigEndian.AppendUint16(out, uint16(len(list)))
		for _, nalu := range list {
			out = binary.BigEndian.AppendUint16(out, uint16(len(nalu)))
			out = append(out, nalu...)
		}
	}
	return out, nil
}

// seiHasRecoveryPoint scans an SEI NAL for a recovery_point message
// (payloadType 6).
func seiHasRecoveryPoint(nalu []byte) bool {
	// Skip the NAL header byte.
	p := nalu[1:]
	for len(p) > 1 {
		payloadType := 0
		for len(p) > 0 && p[0] == 0xFF {
			payloadType += 255
			p = p[1:]
		}
		if len(p) == 0 {
			return false
		}
		payloadType += int(p[0])
		p = p[1:]

		payloadSize := 0
		for len(p) > 0 && p[0] == 0xFF {
			payloadSize += 255
			p = p[1:]
		}
		if len(p) == 0 {
			return false
		}
		payloadSize += int(p[0])
		p = p[1:]

		if payloadType == 6 {
			return true
		}
		if payloadSize > len(p) {
			return false
		}
		p = p[payloadSize:]
	}
	return false
}

// h264KeyLike reports whether an H.264 access unit can start a decode: an
// IDR slice, or a recovery-point SEI marking a gradual refresh entry.
func h264KeyLike(au []byte, lengthPrefixed bool) bool {
	nalus, err := splitNALUs(au, lengthPrefixed)
	if err != nil {
		return false
	}
	for _, nalu := range nalus {
		if len(nalu) < 2 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeIDR:
			return true
		case h264.NALUTypeSEI:
			if seiHasRecoveryPoint(nalu) {
				return true
			}
		}
	}
	return false
}
