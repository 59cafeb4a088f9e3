package poles

import (
	"sort"

	"github.com/notnil/canbus"
)

// ResponseSet groups one receive cycle's responses by responding pole ID.
// A later frame from the same pole replaces an earlier one.
type ResponseSet map[int]Response

// NewResponseSet decodes a batch of received frames.
func NewResponseSet(frames []canbus.Frame) (ResponseSet, error) {
	set := make(ResponseSet, len(frames))
	for _, f := range frames {
		resp, err := DecodeResponse(f)
		if err != nil {
			return nil, err
		}
		set[resp.ID] = resp
	}
	return set, nil
}

// IDs returns the responding pole IDs in ascending order.
func (s ResponseSet) IDs() []int {
	ids := make([]int, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Failed returns the IDs of poles that answered with an error status.
func (s ResponseSet) Failed() []int {
	var ids []int
	for _, id := range s.IDs() {
		if !s[id].OK {
			ids = append(ids, id)
		}
	}
	return ids
}

// Remap rekeys the set from physical to logical pole IDs.
// Responders the proxy does not know are dropped. A nil proxy returns s unchanged.
func (s ResponseSet) Remap(proxy *ProxyTable) ResponseSet {
	if proxy == nil {
		return s
	}
	out := make(ResponseSet, len(s))
	for physical, resp := range s {
		logical, err := proxy.Logical(physical)
		if err != nil {
			continue
		}
		out[logical] = resp
	}
	return out
}
