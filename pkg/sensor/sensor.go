// Package sensor subscribes to the pub/sub channels carrying live threshold
// and attack-mode updates and applies them to the shared scoring state.
package sensor

import (
	"context"
	"strconv"
	"strings"

	"github.com/doorman-core/doorman/pkg/guard"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Listener applies sensor messages to the scoring state. Each subscribed
// channel gets its own long-lived goroutine; a transport failure ends that
// goroutine and is logged, it is not retried.
type Listener struct {
	Client *redis.Client
	State  *guard.State
	Log    zerolog.Logger
}

// Start launches one listener goroutine per non-empty channel name. The
// goroutines run until ctx is canceled or the subscription fails.
func (l *Listener) Start(ctx context.Context, underAttackCh, t1Ch, t2Ch string) {
	if underAttackCh != "" {
		go l.listen(ctx, underAttackCh, l.applyUnderAttack)
	}
	if t1Ch != "" {
		go l.listen(ctx, t1Ch, l.applyT1Threshold)
	}
	if t2Ch != "" {
		go l.listen(ctx, t2Ch, l.applyT2Threshold)
	}
}

func (l *Listener) listen(ctx context.Context, channel string, apply func(string) error) {
	sub := l.Client.Subscribe(ctx, channel)
	defer sub.Close()

	l.Log.Info().Str("channel", channel).Msg("sensor listener started")
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				l.Log.Error().Str("channel", channel).Msg("sensor subscription lost")
				return
			}
			if err := apply(m.Payload); err != nil {
				l.Log.Warn().Err(err).Str("channel", channel).Str("payload", m.Payload).Msg("discarding unparseable sensor message")
			}
		}
	}
}

func (l *Listener) applyT1Threshold(payload string) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
	if err != nil {
		return err
	}
	l.State.SetT1Threshold(v)
	l.Log.Debug().Float64("t1_threshold", v).Msg("t1 threshold updated")
	return nil
}

func (l *Listener) applyT2Threshold(payload string) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
	if err != nil {
		return err
	}
	l.State.SetT2Threshold(v)
	l.Log.Debug().Float64("t2_threshold", v).Msg("t2 threshold updated")
	return nil
}

func (l *Listener) applyUnderAttack(payload string) error {
	v, err := strconv.Atoi(strings.TrimSpace(payload))
	if err != nil {
		return err
	}
	l.State.SetUnderAttack(v != 0)
	l.Log.Info().Bool("under_attack", v != 0).Msg("attack mode updated")
	return nil
}
