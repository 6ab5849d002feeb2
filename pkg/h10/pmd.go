package h10

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/siiimooon/polar-ecg/pkg/stream"
)

var ErrShortResponse = errors.New("pmd control point response too short")

// PMDError is a control point response with a non-zero status.
type PMDError struct {
	OpCode byte
	Status byte
}

var pmdStatus = [...]string{
	1:  "invalid op code",
	2:  "invalid measurement type",
	3:  "not supported",
	4:  "invalid length",
	5:  "invalid parameter",
	6:  "already in state",
	7:  "invalid resolution",
	8:  "invalid sample rate",
	9:  "invalid range",
	10: "invalid mtu",
	11: "invalid number of channels",
	12: "invalid state",
	13: "device in charger",
}

func (e *PMDError) Error() string {
	if int(e.Status) < len(pmdStatus) && pmdStatus[e.Status] != "" {
		return fmt.Sprintf("pmd op %#x failed: %s", e.OpCode, pmdStatus[e.Status])
	}
	return fmt.Sprintf("pmd op %#x failed: status %d", e.OpCode, e.Status)
}

// settingWidth is the encoded size of a single value of each setting type.
var settingWidth = map[byte]int{
	byte(stream.SampleRate):     2,
	byte(stream.Resolution):     2,
	byte(stream.Range):          2,
	byte(stream.RangeMilliunit): 4,
	byte(stream.Channels):       1,
	pmdSettingFactor:            4,
}

// pmdSettingFactor is the conversion factor, only present in responses.
const pmdSettingFactor = 5

// pmdResponse is a decoded control point response.
type pmdResponse struct {
	opCode      byte
	measurement MeasurementType
	status      byte
	parameters  []byte
}

func parsePMDResponse(data []byte) (pmdResponse, error) {
	if len(data) < 4 {
		return pmdResponse{}, fmt.Errorf("%w: %#x", ErrShortResponse, data)
	}
	if data[0] != PMD_CONTROL_POINT_RESPONSE {
		return pmdResponse{}, fmt.Errorf("unexpected control point response: %#x", data)
	}
	resp := pmdResponse{
		opCode:      data[1],
		measurement: MeasurementType(data[2]),
		status:      data[3],
	}
	if resp.status != 0 {
		return resp, &PMDError{OpCode: resp.opCode, Status: resp.status}
	}
	// The byte following the status flags further responses.
	if len(data) > 5 {
		resp.parameters = data[5:]
	}
	return resp, nil
}

// awaitResponse returns the first control point response to the request with
// opCode. Responses to other requests, left over from a request that timed
// out, are skipped.
func awaitResponse(ctx context.Context, responses <-chan []byte, opCode byte, log logrus.FieldLogger) (pmdResponse, error) {
	for {
		select {
		case <-ctx.Done():
			return pmdResponse{}, ctx.Err()
		case buf := <-responses:
			resp, err := parsePMDResponse(buf)
			var pmdErr *PMDError
			if (err == nil || errors.As(err, &pmdErr)) && resp.opCode != opCode {
				log.WithField("op", resp.opCode).Debug("skipping stale control point response")
				continue
			}
			return resp, err
		}
	}
}

// parseSettings decodes the setting records of a measurement settings
// response. Each record is a type, a count and count values.
func parseSettings(data []byte) (stream.Settings, error) {
	settings := make(stream.Settings)
	for len(data) != 0 {
		if len(data) < 2 {
			return nil, fmt.Errorf("truncated setting header: %#x", data)
		}
		typ, count := data[0], int(data[1])
		width, ok := settingWidth[typ]
		if !ok {
			return nil, fmt.Errorf("unknown setting type: %#x", typ)
		}
		data = data[2:]
		if len(data) < count*width {
			return nil, fmt.Errorf("truncated setting %#x: need %d bytes, have %d", typ, count*width, len(data))
		}
		if typ != pmdSettingFactor {
			values := make([]uint32, count)
			for i := range values {
				values[i] = decodeSettingValue(data[i*width:], width)
			}
			settings[stream.SettingType(typ)] = values
		}
		data = data[count*width:]
	}
	return settings, nil
}

func decodeSettingValue(b []byte, width int) uint32 {
	switch width {
	case 1:
		return uint32(b[0])
	case 2:
		return uint32(binary.LittleEndian.Uint16(b))
	default:
		return binary.LittleEndian.Uint32(b)
	}
}

// encodeCommand returns a control point request for the measurement.
// Every setting must have exactly one selected value.
func encodeCommand(op byte, measurement MeasurementType, settings stream.Settings) ([]byte, error) {
	req := []byte{op, byte(measurement)}
	types := make([]stream.SettingType, 0, len(settings))
	for typ := range settings {
		types = append(types, typ)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, typ := range types {
		v, ok := settings.Value(typ)
		if !ok {
			return nil, fmt.Errorf("setting %s must have a single value: %v", typ, settings[typ])
		}
		width, ok := settingWidth[byte(typ)]
		if !ok {
			return nil, fmt.Errorf("unknown setting type: %s", typ)
		}
		req = append(req, byte(typ), 1)
		switch width {
		case 1:
			req = append(req, byte(v))
		case 2:
			req = binary.LittleEndian.AppendUint16(req, uint16(v))
		default:
			req = binary.LittleEndian.AppendUint32(req, v)
		}
	}
	return req, nil
}
