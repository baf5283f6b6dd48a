// Package metering wraps the LLM providers with task routing, usage
// recording and credit debiting.
//
// Fail-closed before the call: a task with no route, no current pricing or
// an exhausted balance never reaches the provider. Fail-open after the call: once the provider
// has answered, metering failures are logged but the response is still
// returned — the tokens were spent either way.
package metering

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"jobscout/core-service/internal/llm"
	"jobscout/core-service/internal/model"
	"jobscout/core-service/internal/registry"
)

// Error codes for fail-closed refusals.
const (
	CodeNoTaskRoute         = "NO_TASK_ROUTE"
	CodeNoPricingConfig     = "NO_PRICING_CONFIG"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
)

// Error is a metering refusal with a stable code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// TaskEmbedding is the task type recorded for embedding calls.
const TaskEmbedding = "embedding"

const thousand = 1000

// Proxy is the metered front door to all provider calls.
type Proxy struct {
	db       *pgxpool.Pool
	registry *registry.Service
	provider llm.Provider
	embedder llm.Embedder
}

// NewProxy constructs a Proxy around one chat provider and one embedder.
func NewProxy(db *pgxpool.Pool, reg *registry.Service, provider llm.Provider, embedder llm.Embedder) *Proxy {
	return &Proxy{db: db, registry: reg, provider: provider, embedder: embedder}
}

// Complete resolves the model for req.Task, verifies pricing exists and the
// user has balance left, calls the provider, then records usage and debits
// against the model the provider actually answered with.
func (p *Proxy) Complete(ctx context.Context, userID string, req llm.CompletionRequest) (*llm.LLMResponse, error) {
	modelName, pricing, err := p.resolve(ctx, req.Task, req.ModelOverride)
	if err != nil {
		return nil, err
	}
	if err := p.requireBalance(ctx, userID); err != nil {
		return nil, err
	}
	req.ModelOverride = modelName

	resp, err := p.provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	// Providers resolve aliases (gpt-4o → a dated snapshot), so bill the
	// model named in the response, not the one requested.
	billModel := BillingModel(modelName, resp.Model)
	if billModel != modelName {
		pricing, err = p.registry.CurrentPricing(ctx, p.provider.Name(), billModel, time.Now().UTC())
		if err != nil {
			// The call succeeded; we cannot fail it now, and recording a
			// zero-cost row would hide real spend. Leave it for admin
			// remediation.
			code := "pricing lookup failed"
			if errors.Is(err, registry.ErrNotFound) {
				code = CodeNoPricingConfig
			}
			log.Printf("[metering] %s: %s/%s (response model, requested %s) — usage not recorded",
				code, p.provider.Name(), billModel, modelName)
			return resp, nil
		}
	}
	p.meter(ctx, userID, req.Task, billModel, resp.InputTokens, resp.OutputTokens, pricing)
	return resp, nil
}

// BillingModel picks the model to bill a completion against: the response's
// model when the provider reports one, the resolved request model otherwise.
func BillingModel(resolved, respModel string) string {
	if respModel != "" {
		return respModel
	}
	return resolved
}

// Stream resolves and streams without metering: stream mode reports no
// token usage, so there is nothing to bill against.
func (p *Proxy) Stream(ctx context.Context, userID string, req llm.CompletionRequest, fn func(chunk string) error) error {
	modelName, _, err := p.resolve(ctx, req.Task, req.ModelOverride)
	if err != nil {
		return err
	}
	if err := p.requireBalance(ctx, userID); err != nil {
		return err
	}
	req.ModelOverride = modelName
	log.Printf("[metering] Streaming %s/%s for user %s — usage not metered", p.provider.Name(), modelName, userID)
	return p.provider.Stream(ctx, req, fn)
}

// Embed runs the embedder and meters input tokens. When the adapter
// chunked the batch and lost the exact count, tokens are estimated.
func (p *Proxy) Embed(ctx context.Context, userID string, texts []string) (*llm.EmbeddingResult, error) {
	modelName := p.embedder.Model()
	pricing, err := p.registry.CurrentPricing(ctx, p.provider.Name(), modelName, time.Now().UTC())
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, &Error{Code: CodeNoPricingConfig, Message: p.provider.Name() + "/" + modelName}
		}
		return nil, err
	}
	if err := p.requireBalance(ctx, userID); err != nil {
		return nil, err
	}

	result, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	tokens := result.TotalTokens
	if tokens == llm.ChunkedTokenSentinel {
		tokens = llm.EstimateTokens(texts)
	}
	p.meter(ctx, userID, TaskEmbedding, modelName, tokens, 0, pricing)
	return result, nil
}

// resolve maps (task, override) to the model to call and its current
// pricing, failing closed when either is missing.
func (p *Proxy) resolve(ctx context.Context, task, override string) (string, *model.PricingRow, error) {
	providerName := p.provider.Name()

	modelName := override
	if modelName == "" {
		var err error
		modelName, err = p.registry.ResolveModel(ctx, providerName, task)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				return "", nil, &Error{Code: CodeNoTaskRoute, Message: providerName + " task " + task}
			}
			return "", nil, err
		}
	}

	pricing, err := p.registry.CurrentPricing(ctx, providerName, modelName, time.Now().UTC())
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return "", nil, &Error{Code: CodeNoPricingConfig, Message: providerName + "/" + modelName}
		}
		return "", nil, err
	}
	return modelName, pricing, nil
}

// requireBalance refuses a call before it reaches the provider when the
// user has no credit left. Token counts are unknown until the provider
// answers, so exhaustion is caught here rather than by failing a call that
// already spent tokens.
func (p *Proxy) requireBalance(ctx context.Context, userID string) error {
	var balance decimal.Decimal
	err := p.db.QueryRow(ctx,
		`SELECT balance_usd FROM users WHERE id = $1`, userID).Scan(&balance)
	if err != nil {
		return fmt.Errorf("metering: balance lookup for user %s: %w", userID, err)
	}
	if !CanSpend(balance) {
		return &Error{Code: CodeInsufficientBalance, Message: "user " + userID}
	}
	return nil
}

// CanSpend reports whether a balance admits another provider call.
func CanSpend(balance decimal.Decimal) bool {
	return balance.GreaterThan(decimal.Zero)
}

// meter records usage and debits the balance in one transaction. Never
// returns an error: the provider call has already succeeded.
func (p *Proxy) meter(ctx context.Context, userID, task, modelName string, inputTokens, outputTokens int, pricing *model.PricingRow) {
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}
	raw, billed := Cost(inputTokens, outputTokens, pricing)

	if err := p.recordAndDebit(ctx, userID, task, modelName, inputTokens, outputTokens, raw, billed, pricing.MarginMultiplier); err != nil {
		log.Printf("[metering] Usage record failed for user %s (%s/%s, %s): %v",
			userID, p.provider.Name(), modelName, task, err)
	}
}

// Cost computes raw provider cost and the billed cost (raw × margin),
// both rounded to six decimal places.
func Cost(inputTokens, outputTokens int, pricing *model.PricingRow) (raw, billed decimal.Decimal) {
	in := decimal.NewFromInt(int64(inputTokens)).
		Div(decimal.NewFromInt(thousand)).
		Mul(pricing.InputCostPer1K)
	out := decimal.NewFromInt(int64(outputTokens)).
		Div(decimal.NewFromInt(thousand)).
		Mul(pricing.OutputCostPer1K)
	raw = in.Add(out).Round(6)
	billed = raw.Mul(pricing.MarginMultiplier).Round(6)
	return raw, billed
}

// DebitAmount clamps a billed cost to what the balance can absorb, so a
// debit never takes the balance below zero.
func DebitAmount(balance, billed decimal.Decimal) decimal.Decimal {
	if balance.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	if billed.GreaterThan(balance) {
		return balance
	}
	return billed
}

func (p *Proxy) recordAndDebit(ctx context.Context, userID, task, modelName string, inputTokens, outputTokens int, raw, billed, margin decimal.Decimal) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var usageID string
	err = tx.QueryRow(ctx,
		`INSERT INTO llm_usage_records
		   (user_id, provider, model, task_type, input_tokens, output_tokens,
		    raw_cost, billed_cost, margin_used)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		userID, p.provider.Name(), modelName, task,
		inputTokens, outputTokens, raw, billed, margin).Scan(&usageID)
	if err != nil {
		return err
	}

	// Lock the balance row so concurrent debits serialise.
	var balance decimal.Decimal
	err = tx.QueryRow(ctx,
		`SELECT balance_usd FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err != nil {
		return err
	}

	// The balance never goes below zero: the final call before exhaustion
	// is debited only down to zero, and the ledger row carries the amount
	// actually debited so balance == Σ credit_transactions holds.
	debit := DebitAmount(balance, billed)
	if _, err := tx.Exec(ctx,
		`UPDATE users SET balance_usd = balance_usd - $2 WHERE id = $1`,
		userID, debit); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO credit_transactions (user_id, amount_usd, tx_type, reference_id, description)
		 VALUES ($1, $2, $3, $4, $5)`,
		userID, debit.Neg(), model.TxUsageDebit, usageID,
		fmt.Sprintf("%s/%s %s", p.provider.Name(), modelName, task)); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GrantCredits adds credit to a user's balance with a matching ledger row.
// txType is one of the credit transaction types; amounts must be positive.
func (p *Proxy) GrantCredits(ctx context.Context, userID string, amount decimal.Decimal, txType, description string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("metering: grant amount must be positive, got %s", amount)
	}
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var balance decimal.Decimal
	if err := tx.QueryRow(ctx,
		`SELECT balance_usd FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE users SET balance_usd = balance_usd + $2 WHERE id = $1`, userID, amount); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO credit_transactions (user_id, amount_usd, tx_type, description)
		 VALUES ($1, $2, $3, $4)`,
		userID, amount, txType, description); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
