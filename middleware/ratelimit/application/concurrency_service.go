package application

import (
	"context"
	"errors"
	"time"

	"apikey-gateway/middleware/ratelimit/domain"
)

// ErrNoSlot indica que nenhuma vaga para o upstream foi liberada dentro do AcquireTimeout.
var ErrNoSlot = errors.New("no upstream slot available")

// SlotService concentra a regra de aquisição/liberação de vagas para o upstream
// com timeout, sem saber nada sobre HTTP.
type SlotService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
}

// Acquire tenta adquirir uma vaga.
// - Se `AcquireTimeout <= 0`, espera indefinidamente (até ctx cancelar).
// - Se `AcquireTimeout > 0`, espera até o timeout e devolve ErrNoSlot.
// Se o ctx do chamador for cancelado, devolve ctx.Err().
func (s SlotService) Acquire(ctx context.Context) (func(), error) {
	if s.Pool == nil {
		return func() {}, nil
	}

	acqCtx := ctx
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}

	release, ok := s.Pool.Acquire(acqCtx)
	if ok {
		return release, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, ErrNoSlot
}
