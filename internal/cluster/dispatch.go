package cluster

import "strings"

// extracted is the result of classifying and slot-hashing a user request.
type extracted struct {
	cmd         string
	keySlots    []int
	keyInterval int // 0 = single key or no key, 1 = multi-key, 2 = multi-key-value
	write       bool
}

// extractCmd validates element count/types and computes the slot(s) a
// request touches, per spec 4.4.1/4.4.2. The read/write classification
// here is the corrected (non-inverted) form: writeCmd membership means
// write, full stop — the original implementation this was ported from
// inverted that check in its single-key branch, which would have sent
// writes to followers; that bug is not reproduced.
func extractCmd(args []string) (extracted, *Error) {
	if len(args) == 0 {
		return extracted{}, newError(InvalidCommand, "empty command")
	}
	cmd := strings.ToUpper(args[0])
	if !isSupported(cmd) {
		return extracted{}, newError(InvalidCommand, "command %s not supported", cmd)
	}

	switch {
	case isMultiKey(cmd):
		if len(args) < 2 {
			return extracted{}, newError(InvalidCommand, "%s requires at least one key", cmd)
		}
		slots := make([]int, 0, len(args)-1)
		for _, key := range args[1:] {
			if key == "" {
				return extracted{}, newError(InvalidCommand, "%s: empty key", cmd)
			}
			slots = append(slots, KeySlot(key))
		}
		return extracted{cmd: cmd, keySlots: slots, keyInterval: 1, write: isWrite(cmd)}, nil

	case isMultiKeyValue(cmd):
		if len(args) < 3 || len(args)%2 == 0 {
			return extracted{}, newError(InvalidCommand, "%s requires an even number of key/value arguments", cmd)
		}
		slots := make([]int, 0, (len(args)-1)/2)
		for i := 1; i < len(args); i += 2 {
			key := args[i]
			if key == "" {
				return extracted{}, newError(InvalidCommand, "%s: empty key", cmd)
			}
			slots = append(slots, KeySlot(key))
		}
		return extracted{cmd: cmd, keySlots: slots, keyInterval: 2, write: isWrite(cmd)}, nil

	default:
		if len(args) < 2 {
			// No key argument at all (e.g. PING): dispatch to any known node.
			return extracted{cmd: cmd, keySlots: nil, keyInterval: 0, write: isWrite(cmd)}, nil
		}
		if args[1] == "" {
			return extracted{}, newError(InvalidCommand, "%s: empty key", cmd)
		}
		return extracted{cmd: cmd, keySlots: []int{KeySlot(args[1])}, keyInterval: 0, write: isWrite(cmd)}, nil
	}
}

// subRequest is one shard's share of a multi-key command, tagged with
// the original positional index of each key it carries so replies can
// be reassembled in the caller's original order.
type subRequest struct {
	slot      int
	args      []string // [cmd, key, value?, key, value?, ...]
	keyIndex  []int    // keyIndex[k] is the original position of the k-th key in args
}

// splitBySlot groups a multi-key/multi-key-value command's keys (and,
// for multi-key-value, their paired values) into one sub-request per
// distinct slot, preserving original key order within each group.
func splitBySlot(ex extracted, args []string) []subRequest {
	bySlot := make(map[int]*subRequest)
	order := make([]int, 0, 4)

	for i, slot := range ex.keySlots {
		sr, ok := bySlot[slot]
		if !ok {
			sr = &subRequest{slot: slot, args: []string{args[0]}}
			bySlot[slot] = sr
			order = append(order, slot)
		}
		keyPos := i*ex.keyInterval + 1
		sr.args = append(sr.args, args[keyPos])
		sr.keyIndex = append(sr.keyIndex, i)
		for j := 2; j <= ex.keyInterval; j++ {
			sr.args = append(sr.args, args[keyPos+j-1])
		}
	}

	out := make([]subRequest, 0, len(order))
	for _, slot := range order {
		out = append(out, *bySlot[slot])
	}
	return out
}
