// Package main is the entry point for the Stripe webhook Lambda.
//
// API Gateway forwards the raw delivery; the handler verifies and applies it
// through the same WebhookProcessor the API server uses, so deliveries can be
// routed to either. Metrics go to CloudWatch.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"planguard/internal/api/handlers"
	"planguard/internal/app"
	"planguard/internal/billing"
	"planguard/internal/config"
	"planguard/internal/core"
	"planguard/internal/types"
)

// Handler adapts API Gateway proxy events to the webhook processor.
type Handler struct {
	processor handlers.WebhookService
	logger    *slog.Logger
}

// Handle always answers with an HTTP-shaped response; returning an error
// would make API Gateway report a 502 and the gateway would redeliver
// payloads that can never succeed.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return errorResponse(types.NewAppError(types.ErrCodeValidationInvalidBody, "body is not valid base64", err)), nil
		}
		body = decoded
	}

	result, err := h.processor.Handle(ctx, body, header(req.Headers, handlers.StripeSignatureHeader))
	if err != nil {
		if !types.IsCode(err, types.ErrCodeValidationWebhookSig) {
			h.logger.ErrorContext(ctx, "webhook processing failed", "error", err)
		}
		return errorResponse(err), nil
	}
	return jsonResponse(http.StatusOK, result), nil
}

// header looks name up case-insensitively; API Gateway may lowercase keys.
func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func errorResponse(err error) events.APIGatewayProxyResponse {
	code := types.CodeOf(err)
	msg := "internal server error"
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	return jsonResponse(code.HTTPStatus(), core.APIErrorResponse{
		Error: core.ErrorDetail{Code: string(code), Message: msg},
	})
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":{"code":"internal_unexpected","message":"failed to marshal response"}}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("webhook Lambda initializing (cold start)")

	handler, err := newHandler(context.Background(), logger)
	if err != nil {
		logger.Error("failed to initialize webhook handler", "error", err)
		os.Exit(1)
	}

	// Local mode reads one API Gateway event from stdin instead of starting
	// the Lambda runtime.
	if os.Getenv("APP_ENV") == "local" {
		if err := runLocal(context.Background(), handler, os.Stdin, os.Stdout); err != nil {
			logger.Error("local invocation failed", "error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(handler.Handle)
}

func newHandler(ctx context.Context, logger *slog.Logger) (*Handler, error) {
	cfg, err := config.LoadConfig(config.NewEnvVarProvider())
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	var recorder billing.Recorder
	if cfg.Observability.MetricsEnabled {
		if recorder, err = app.NewCloudWatchRecorder(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}

	// The engine lives for the container's lifetime; Lambda gives no
	// shutdown hook to close it.
	engine, err := app.Build(ctx, cfg, logger, app.Options{Recorder: recorder})
	if err != nil {
		return nil, fmt.Errorf("building billing engine: %w", err)
	}
	return &Handler{processor: engine.Webhooks, logger: logger}, nil
}

func runLocal(ctx context.Context, h *Handler, in io.Reader, out io.Writer) error {
	payload, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	var req events.APIGatewayProxyRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("parsing stdin as API Gateway event: %w", err)
	}
	resp, err := h.Handle(ctx, req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
