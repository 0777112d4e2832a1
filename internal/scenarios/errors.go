package scenarios

import (
	"context"
	"errors"
	"fmt"

	"github.com/idlab-discover/sdnscen/internal/emulation"
	"github.com/idlab-discover/sdnscen/internal/sdn"
	"github.com/idlab-discover/sdnscen/internal/topology"
)

// Kind names an error class in reports.
type Kind string

const (
	KindInvalidParameter      Kind = "InvalidParameter"
	KindUnknownTopology       Kind = "UnknownTopology"
	KindDisconnectedGraph     Kind = "DisconnectedGraph"
	KindControllerRejected    Kind = "ControllerRejected"
	KindControllerUnavailable Kind = "ControllerUnavailable"
	KindBackendUnavailable    Kind = "BackendUnavailable"
	KindCommandFailed         Kind = "CommandFailed"
	KindUnknownNode           Kind = "UnknownNode"
	KindTimeout               Kind = "Timeout"
	KindCanceled              Kind = "Canceled"
	KindUnreachable           Kind = "Unreachable"
	KindInternal              Kind = "Internal"
)

// ErrUnreachable is the failure of a run that requires connectivity when verification got no
// reply.
var ErrUnreachable = errors.New("verification destination unreachable")

var kinds = []struct {
	target error
	kind   Kind
}{
	{topology.ErrInvalidParameter, KindInvalidParameter},
	{topology.ErrUnknownTopology, KindUnknownTopology},
	{topology.ErrDisconnectedGraph, KindDisconnectedGraph},
	{sdn.ErrControllerRejected, KindControllerRejected},
	{sdn.ErrControllerUnavailable, KindControllerUnavailable},
	{emulation.ErrBackendUnavailable, KindBackendUnavailable},
	{emulation.ErrCommandFailed, KindCommandFailed},
	{emulation.ErrUnknownNode, KindUnknownNode},
	{ErrUnreachable, KindUnreachable},
	{context.DeadlineExceeded, KindTimeout},
	{context.Canceled, KindCanceled},
}

// KindOf classifies err.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.target) {
			return k.kind
		}
	}
	return KindInternal
}

// Detail extracts the diagnostic payload of the collaborator that failed: the controller's
// response body or the command's stderr.
func Detail(err error) string {
	var rej *sdn.RejectedError
	if errors.As(err, &rej) {
		return rej.Body
	}
	var cmd *emulation.CommandError
	if errors.As(err, &cmd) {
		return cmd.Stderr
	}
	return ""
}

// StageError is the failure of one stage.
type StageError struct {
	Stage string
	Kind  Kind
	Err   error
}

func NewStageError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Kind: KindOf(err), Err: err}
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
