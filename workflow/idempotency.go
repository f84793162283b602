package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shiftcrew/dispatch_backend/models"
	"github.com/shiftcrew/dispatch_backend/repository"
	"github.com/shiftcrew/dispatch_backend/utils"
)

const maxIdempotencyKeyLength = 255

// runIdempotent runs fn once per (actor, operation, Idempotency-Key) inside tx.
// Without a key in ctx it just runs fn. request is the validated request body;
// reusing a key with a different body is a ConflictError. The key row is inserted as STARTED
// before fn and completed with fn's result, all in tx, so a failed fn leaves
// no row. A replay of a completed key returns the stored result and reports
// replayed=true.
func runIdempotent[T any](ctx context.Context, tx repository.Tx, actor models.Actor, operation string, request any, fn func() (T, error)) (result T, replayed bool, err error) {
	key, _ := utils.GetIdempotencyKeyFromContext(ctx)
	key = strings.TrimSpace(key)
	if key == "" {
		result, err = fn()
		return result, false, err
	}
	if len(key) > maxIdempotencyKeyLength {
		return result, false, utils.NewValidationError("Idempotency-Key must be at most %d characters", maxIdempotencyKeyLength)
	}

	hash, err := requestHash(request)
	if err != nil {
		return result, false, err
	}

	rec := &models.IdempotencyKey{
		ActorId:     actor.Id,
		Operation:   operation,
		Key:         key,
		Status:      models.IdempotencyStatusStarted,
		RequestHash: hash,
	}
	if err := tx.CreateIdempotencyKey(ctx, rec); err != nil {
		if !errors.Is(err, repository.ErrDuplicateKey) {
			return result, false, err
		}
		existing, gerr := tx.GetIdempotencyKey(ctx, actor.Id, operation, key)
		if gerr != nil {
			return result, false, gerr
		}
		if existing.RequestHash != hash {
			return result, false, utils.NewConflictError("idempotency_key", key, string(existing.Status),
				"this Idempotency-Key was already used with a different request")
		}
		if existing.Status != models.IdempotencyStatusSucceeded || existing.Response == nil {
			return result, false, utils.NewConflictError("idempotency_key", key, string(existing.Status),
				"a request with this Idempotency-Key is still in progress")
		}
		if err := json.Unmarshal([]byte(*existing.Response), &result); err != nil {
			return result, false, fmt.Errorf("decode stored response for %s: %w", operation, err)
		}
		return result, true, nil
	}

	result, err = fn()
	if err != nil {
		return result, false, err
	}
	b, err := json.Marshal(result)
	if err != nil {
		return result, false, err
	}
	if err := tx.CompleteIdempotencyKey(ctx, rec.ID, string(b)); err != nil {
		return result, false, err
	}
	return result, false, nil
}

func requestHash(request any) (string, error) {
	b, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("encode request for idempotency: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
