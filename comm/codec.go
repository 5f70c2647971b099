package comm

import (
	"encoding/json"
	"fmt"

	"github.com/tsukuba-hpcs/gradsync/params"
)

// payload is the wire form of one worker's contribution to a collective
// round: parallel name/value slices in sorted-name order.
type payload struct {
	Round  uint64      `json:"round"`
	Rank   int         `json:"rank"`
	Names  []string    `json:"names"`
	Values [][]float64 `json:"values"`
}

// encodeData serializes the data buffers of every allocated parameter.
func encodeData(set *params.Set, round uint64, rank int) ([]byte, error) {
	p := payload{Round: round, Rank: rank}
	set.Each(func(param *params.Parameter) {
		if !param.HasData() {
			return
		}
		p.Names = append(p.Names, param.Name)
		p.Values = append(p.Values, param.Data)
	})

	buf, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode data payload: %w", err)
	}

	return buf, nil
}

// encodeGrads serializes the gradient buffers of every parameter that holds one.
func encodeGrads(set *params.Set, round uint64, rank int) ([]byte, error) {
	p := payload{Round: round, Rank: rank}
	set.Each(func(param *params.Parameter) {
		if !param.HasGrad() {
			return
		}
		p.Names = append(p.Names, param.Name)
		p.Values = append(p.Values, param.Grad)
	})

	buf, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode gradient payload: %w", err)
	}

	return buf, nil
}

// decodePayload deserializes a peer contribution into a name-keyed map.
func decodePayload(buf []byte) (map[string][]float64, error) {
	var p payload
	if err := json.Unmarshal(buf, &p); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	if len(p.Names) != len(p.Values) {
		return nil, fmt.Errorf("malformed payload: %d names, %d value vectors", len(p.Names), len(p.Values))
	}

	vectors := make(map[string][]float64, len(p.Names))
	for i, name := range p.Names {
		vectors[name] = p.Values[i]
	}

	return vectors, nil
}
