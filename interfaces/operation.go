package interfaces

import (
	"encoding/json"
	"fmt"
)

// Operation is the closed set of functions a node can execute.
type Operation int

const (
	OpSeedPrgs Operation = iota + 1
	OpEnroll
	OpRecover
	OpKeyGen
	OpSign
)

var operationNames = map[Operation]string{
	OpSeedPrgs: "seed_prgs",
	OpEnroll:   "upload_sk_and_pwd",
	OpRecover:  "skrecovery",
	OpKeyGen:   "keygen",
	OpSign:     "signing",
}

// ParseOperation decodes a wire function name.
func ParseOperation(name string) (Operation, error) {
	for op, n := range operationNames {
		if n == name {
			return op, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOperation, name)
}

// String returns the wire function name.
func (op Operation) String() string {
	if n, ok := operationNames[op]; ok {
		return n
	}
	return fmt.Sprintf("operation(%d)", int(op))
}

// NeedsMesh reports whether the operation exchanges messages between nodes.
func (op Operation) NeedsMesh() bool {
	switch op {
	case OpSeedPrgs, OpKeyGen, OpSign:
		return true
	default:
		return false
	}
}

func (op Operation) MarshalJSON() ([]byte, error) {
	return json.Marshal(op.String())
}

func (op *Operation) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseOperation(name)
	if err != nil {
		return err
	}
	*op = parsed
	return nil
}
