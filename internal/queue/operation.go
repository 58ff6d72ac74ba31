package queue

import (
	"fmt"

	"github.com/srg/rsslink/internal/device"
)

// Kind tags the two operation variants.
type Kind int

const (
	Read Kind = iota
	Write
)

func (k Kind) String() string {
	switch k {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Operation is a single GATT request. It is immutable once created;
// the queue takes ownership on Enqueue.
type Operation struct {
	Kind           Kind
	Target         device.Gatt
	Service        string
	Characteristic string
	Payload        []byte // Write only

	seq uint64
}

// NewRead builds a characteristic read.
func NewRead(target device.Gatt, service, characteristic string) Operation {
	return Operation{
		Kind:           Read,
		Target:         target,
		Service:        service,
		Characteristic: characteristic,
	}
}

// NewWrite builds a characteristic write. The payload is copied.
func NewWrite(target device.Gatt, service, characteristic string, payload []byte) Operation {
	return Operation{
		Kind:           Write,
		Target:         target,
		Service:        service,
		Characteristic: characteristic,
		Payload:        append([]byte(nil), payload...),
	}
}

// Seq is the queue-assigned sequence number, zero before Enqueue.
func (o Operation) Seq() uint64 {
	return o.seq
}

func (o Operation) String() string {
	if o.Kind == Write {
		return fmt.Sprintf("#%d %s %s % x", o.seq, o.Kind, device.ShortenUUID(device.NormalizeUUID(o.Characteristic)), o.Payload)
	}
	return fmt.Sprintf("#%d %s %s", o.seq, o.Kind, device.ShortenUUID(device.NormalizeUUID(o.Characteristic)))
}
