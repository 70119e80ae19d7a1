package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cordum/cordum-packs/core/packs"
)

const (
	registerSubjectPrefix  = "packs.register."
	defaultRegisterTimeout = 30 * time.Second
)

// RegisterSubject is the request subject served by the registrar of kind.
func RegisterSubject(kind packs.ContentKind) string {
	return registerSubjectPrefix + string(kind)
}

type registerRequest struct {
	Kind          packs.ContentKind `json:"kind"`
	FailOnFailure bool              `json:"fail_on_failure"`
}

type registerReply struct {
	Registered []string `json:"registered"`
	Errors     []string `json:"errors"`
	Error      string   `json:"error"`
}

// BusRegistrar asks a remote content registrar to ingest one kind.
type BusRegistrar struct {
	req     Requester
	kind    packs.ContentKind
	timeout time.Duration
}

// NewBusRegistrar returns a registrar for kind. timeout <= 0 uses 30s.
func NewBusRegistrar(req Requester, kind packs.ContentKind, timeout time.Duration) *BusRegistrar {
	if timeout <= 0 {
		timeout = defaultRegisterTimeout
	}
	return &BusRegistrar{req: req, kind: kind, timeout: timeout}
}

// Register performs the request/reply round trip.
func (r *BusRegistrar) Register(ctx context.Context, failOnFailure bool) (packs.RegistrationResult, error) {
	payload, err := json.Marshal(registerRequest{Kind: r.kind, FailOnFailure: failOnFailure})
	if err != nil {
		return packs.RegistrationResult{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := r.req.Request(ctx, RegisterSubject(r.kind), payload)
	if err != nil {
		return packs.RegistrationResult{}, err
	}
	var reply registerReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return packs.RegistrationResult{}, fmt.Errorf("decode %s reply: %w", r.kind, err)
	}
	res := packs.RegistrationResult{Registered: reply.Registered, Errors: reply.Errors}
	if reply.Error != "" {
		return res, errors.New(reply.Error)
	}
	return res, nil
}

// Registrars builds one bus registrar per registrable kind.
func Registrars(req Requester, timeout time.Duration) map[packs.ContentKind]packs.Registrar {
	out := make(map[packs.ContentKind]packs.Registrar, len(packs.RegistrationSteps))
	for _, step := range packs.RegistrationSteps {
		out[step.Kind] = NewBusRegistrar(req, step.Kind, timeout)
	}
	return out
}
