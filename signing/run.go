package signing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/dots-platform/skrecovery-app/interfaces"
	"github.com/dots-platform/skrecovery-app/transport"
)

// RunKeygen runs distributed key generation with every other party of cfg.
func RunKeygen(ctx context.Context, mesh transport.Mesh, cfg interfaces.Config, rng io.Reader, log *slog.Logger) (*KeyShare, error) {
	kg, err := NewKeygen(cfg, mesh.Self(), rng)
	if err != nil {
		return nil, err
	}
	out, err := NewDriver(mesh, log).Run(ctx, kg, others(cfg.Parties(), mesh.Self()))
	if err != nil {
		return nil, err
	}

	var share KeyShare
	if err := json.Unmarshal(out, &share); err != nil {
		return nil, fmt.Errorf("decode key share: %w", err)
	}
	log.Info("Key generation complete", "party", share.ID, "parties", share.N, "threshold", share.T)
	return &share, nil
}

// RunSign signs message with the active parties. A party outside the active
// set exchanges nothing and returns an empty signature.
func RunSign(ctx context.Context, mesh transport.Mesh, share *KeyShare, active []int, message []byte, rng io.Reader, log *slog.Logger) ([]byte, error) {
	if !slices.Contains(active, share.ID) {
		log.Debug("Not an active signer", "party", share.ID)
		return nil, nil
	}
	s, err := NewSigner(share, active, message, rng)
	if err != nil {
		return nil, err
	}
	sig, err := NewDriver(mesh, log).Run(ctx, s, others(active, share.ID))
	if err != nil {
		return nil, err
	}
	log.Info("Signature complete", "party", share.ID, "signers", len(active))
	return sig, nil
}

func others(ids []int, self int) []int {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if id != self {
			out = append(out, id)
		}
	}
	return out
}
