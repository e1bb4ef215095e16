package serializer

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/gstore/rpc/common"
)

// IRPCSerializer is the interface for all Message Serializers
type IRPCSerializer interface {
	// Serialize serializes a Message into a byte array
	// It returns the serialized byte array and an error if any
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize deserializes a byte array into a Message
	// It takes a byte array and a pointer to a Message as parameters.
	// Fields not present in b are reset.
	// It returns an error if any
	Deserialize(b []byte, msg *common.Message) error
	// Name returns the name the serializer is selected by
	Name() string
}

// Names lists the names accepted by New
var Names = []string{"binary", "json", "gob"}

// New returns the serializer with the given name
func New(name string) (IRPCSerializer, error) {
	switch strings.ToLower(name) {
	case "binary":
		return NewBinarySerializer(), nil
	case "json":
		return NewJSONSerializer(), nil
	case "gob":
		return NewGOBSerializer(), nil
	default:
		return nil, fmt.Errorf("unknown serializer '%s', expect one of %s", name, strings.Join(Names, ", "))
	}
}
