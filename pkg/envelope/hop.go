package envelope

import (
	"os"
	"time"
)

// HopType distinguishes the processing step a hop records
type HopType string

const (
	// HopCurrent records the service currently processing the message
	HopCurrent HopType = "Current"

	// HopCausation records the step that caused the message to exist
	HopCausation HopType = "Causation"
)

// CallSite locates the code that produced a hop
type CallSite struct {
	Member string `json:"Member"`
	File   string `json:"File"`
	Line   int    `json:"Line"`
}

// ServiceIdentity names the process appending hops
type ServiceIdentity struct {
	ServiceName string `json:"ServiceName"`
	InstanceID  string `json:"InstanceId"`
	Host        string `json:"Host"`
	PID         int    `json:"Pid"`
}

// NewServiceIdentity builds an identity for this process
func NewServiceIdentity(serviceName, instanceID string) ServiceIdentity {
	host, _ := os.Hostname()
	return ServiceIdentity{
		ServiceName: serviceName,
		InstanceID:  instanceID,
		Host:        host,
		PID:         os.Getpid(),
	}
}

// Hop records one processing step of a message. Exactly one hop is appended
// per service/stage visit; hops are append-only.
type Hop struct {
	Type              HopType           `json:"Type"`
	Service           ServiceIdentity   `json:"Service"`
	Timestamp         time.Time         `json:"Timestamp"`
	Topic             string            `json:"Topic,omitempty"`
	StreamKey         StreamKey         `json:"StreamKey,omitempty"`
	Partition         *int              `json:"Partition,omitempty"`
	Sequence          *int64            `json:"Sequence,omitempty"`
	ExecutionStrategy string            `json:"ExecutionStrategy,omitempty"`
	CorrelationID     CorrelationID     `json:"CorrelationId"`
	CausationID       CausationID       `json:"CausationId,omitzero"`
	Scope             map[string]string `json:"Scope,omitempty"`
	CallSite          *CallSite         `json:"CallSite,omitempty"`
	Duration          *time.Duration    `json:"Duration,omitempty"`
}
