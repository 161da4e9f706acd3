// Package service exposes the ledger operations over Connect RPC. Handlers
// are hand-registered unary procedures speaking JSON; every successful
// mutation publishes the canonical ledger snapshot to the room so all live
// viewers converge.
package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"

	"github.com/splitpot/splitpot/internal/auth"
	"github.com/splitpot/splitpot/internal/hub"
	"github.com/splitpot/splitpot/internal/middleware"
	"github.com/splitpot/splitpot/internal/models"
	"github.com/splitpot/splitpot/internal/settle"
	"github.com/splitpot/splitpot/internal/storage"
)

// Procedure paths for the ledger service.
const (
	ProcCreateLedger = "/splitpot.v1.LedgerService/CreateLedger"
	ProcGetLedger    = "/splitpot.v1.LedgerService/GetLedger"
	ProcUpdateField  = "/splitpot.v1.LedgerService/UpdateField"
	ProcAddRow       = "/splitpot.v1.LedgerService/AddRow"
	ProcDeleteRow    = "/splitpot.v1.LedgerService/DeleteRow"
	ProcUpdateName   = "/splitpot.v1.LedgerService/UpdateName"
	ProcUpdateDate   = "/splitpot.v1.LedgerService/UpdateDate"
	ProcSettle       = "/splitpot.v1.LedgerService/Settle"
	ProcUnsettle     = "/splitpot.v1.LedgerService/Unsettle"
	ProcDeleteLedger = "/splitpot.v1.LedgerService/DeleteLedger"
)

// LedgerService implements the ledger RPC surface.
type LedgerService struct {
	store  storage.LedgerStore
	hub    *hub.Hub
	gate   *settle.Gate
	tokens *auth.TokenManager
}

// NewLedgerService creates the service. hub may be nil for tests that only
// exercise persistence.
func NewLedgerService(store storage.LedgerStore, h *hub.Hub, tokens *auth.TokenManager) *LedgerService {
	return &LedgerService{
		store:  store,
		hub:    h,
		gate:   settle.New(store, h),
		tokens: tokens,
	}
}

// RowInput seeds one row at creation time.
type RowInput struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
}

type CreateLedgerRequest struct {
	Name     string     `json:"name"`
	Date     string     `json:"date,omitempty"`
	Passcode string     `json:"passcode,omitempty"`
	Rows     []RowInput `json:"rows,omitempty"`
}

type CreateLedgerResponse struct {
	Ledger *models.Ledger `json:"ledger"`

	// OwnerToken authorizes destructive operations on this ledger. Shown
	// once; it is not recoverable later.
	OwnerToken string `json:"owner_token"`
}

type GetLedgerRequest struct {
	Token    string `json:"token"`
	Passcode string `json:"passcode,omitempty"`
}

type UpdateFieldRequest struct {
	Token string       `json:"token"`
	Row   int          `json:"row"`
	Field models.Field `json:"field"`
	Value string       `json:"value"`
}

type AddRowRequest struct {
	Token  string  `json:"token"`
	Name   string  `json:"name,omitempty"`
	Amount float64 `json:"amount,omitempty"`
}

type DeleteRowRequest struct {
	Token string `json:"token"`
	Row   int    `json:"row"`
}

type UpdateNameRequest struct {
	Token string `json:"token"`
	Name  string `json:"name"`
}

type UpdateDateRequest struct {
	Token string `json:"token"`
	Date  string `json:"date"`
}

type TokenRequest struct {
	Token string `json:"token"`
}

// LedgerResponse wraps the canonical ledger returned by every operation.
type LedgerResponse struct {
	Ledger *models.Ledger `json:"ledger"`
}

type DeleteLedgerResponse struct{}

// RegisterHandlers mounts every procedure on mux. The JSON codec is always
// applied; callers add interceptors through opts.
func (s *LedgerService) RegisterHandlers(mux *http.ServeMux, opts ...connect.HandlerOption) {
	opts = append(opts, connect.WithCodec(jsonCodec{}))

	mux.Handle(ProcCreateLedger, connect.NewUnaryHandler(ProcCreateLedger, s.CreateLedger, opts...))
	mux.Handle(ProcGetLedger, connect.NewUnaryHandler(ProcGetLedger, s.GetLedger, opts...))
	mux.Handle(ProcUpdateField, connect.NewUnaryHandler(ProcUpdateField, s.UpdateField, opts...))
	mux.Handle(ProcAddRow, connect.NewUnaryHandler(ProcAddRow, s.AddRow, opts...))
	mux.Handle(ProcDeleteRow, connect.NewUnaryHandler(ProcDeleteRow, s.DeleteRow, opts...))
	mux.Handle(ProcUpdateName, connect.NewUnaryHandler(ProcUpdateName, s.UpdateName, opts...))
	mux.Handle(ProcUpdateDate, connect.NewUnaryHandler(ProcUpdateDate, s.UpdateDate, opts...))
	mux.Handle(ProcSettle, connect.NewUnaryHandler(ProcSettle, s.Settle, opts...))
	mux.Handle(ProcUnsettle, connect.NewUnaryHandler(ProcUnsettle, s.Unsettle, opts...))
	mux.Handle(ProcDeleteLedger, connect.NewUnaryHandler(ProcDeleteLedger, s.DeleteLedger, opts...))
}

// CreateLedger persists a new ledger and mints its owner token.
func (s *LedgerService) CreateLedger(ctx context.Context, req *connect.Request[CreateLedgerRequest]) (*connect.Response[CreateLedgerResponse], error) {
	date, err := models.ParseDate(req.Msg.Date)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	ledger := &models.Ledger{
		Name: req.Msg.Name,
		Date: date,
	}
	for _, row := range req.Msg.Rows {
		ledger.Rows = append(ledger.Rows, models.Row{Name: row.Name, Amount: row.Amount})
	}

	if req.Msg.Passcode != "" {
		hash, err := auth.HashPasscode(req.Msg.Passcode)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		ledger.PasscodeHash = hash
	}

	if err := s.store.Create(ctx, ledger); err != nil {
		slog.Error("CreateLedger failed", "error", err)
		return nil, asConnectError(err)
	}

	ownerToken, err := s.tokens.Mint(ledger.Token)
	if err != nil {
		slog.Error("CreateLedger: minting owner token failed", "error", err)
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	slog.Info("ledger created", "token", ledger.Token, "rows", len(ledger.Rows))
	return connect.NewResponse(&CreateLedgerResponse{
		Ledger:     ledger,
		OwnerToken: ownerToken,
	}), nil
}

// GetLedger returns the canonical ledger for a share token. Private
// ledgers require the matching passcode.
func (s *LedgerService) GetLedger(ctx context.Context, req *connect.Request[GetLedgerRequest]) (*connect.Response[LedgerResponse], error) {
	ledger, err := s.store.GetByToken(ctx, req.Msg.Token)
	if err != nil {
		return nil, asConnectError(err)
	}
	if err := auth.CheckPasscode(ledger.PasscodeHash, req.Msg.Passcode); err != nil {
		return nil, connect.NewError(connect.CodePermissionDenied, err)
	}
	return connect.NewResponse(&LedgerResponse{Ledger: ledger}), nil
}

// UpdateField persists one cell and fans the result out to the room.
func (s *LedgerService) UpdateField(ctx context.Context, req *connect.Request[UpdateFieldRequest]) (*connect.Response[LedgerResponse], error) {
	ledger, err := s.store.UpdateField(ctx, req.Msg.Token, req.Msg.Row, req.Msg.Field, req.Msg.Value)
	if err != nil {
		return nil, asConnectError(err)
	}
	s.publish(req.Msg.Token, ledger)
	return connect.NewResponse(&LedgerResponse{Ledger: ledger}), nil
}

// AddRow appends a row.
func (s *LedgerService) AddRow(ctx context.Context, req *connect.Request[AddRowRequest]) (*connect.Response[LedgerResponse], error) {
	ledger, err := s.store.AddRow(ctx, req.Msg.Token, req.Msg.Name, req.Msg.Amount)
	if err != nil {
		return nil, asConnectError(err)
	}
	s.publish(req.Msg.Token, ledger)
	return connect.NewResponse(&LedgerResponse{Ledger: ledger}), nil
}

// DeleteRow removes the row at a position.
func (s *LedgerService) DeleteRow(ctx context.Context, req *connect.Request[DeleteRowRequest]) (*connect.Response[LedgerResponse], error) {
	ledger, err := s.store.DeleteRow(ctx, req.Msg.Token, req.Msg.Row)
	if err != nil {
		return nil, asConnectError(err)
	}
	s.publish(req.Msg.Token, ledger)
	return connect.NewResponse(&LedgerResponse{Ledger: ledger}), nil
}

// UpdateName renames the ledger.
func (s *LedgerService) UpdateName(ctx context.Context, req *connect.Request[UpdateNameRequest]) (*connect.Response[LedgerResponse], error) {
	ledger, err := s.store.UpdateName(ctx, req.Msg.Token, req.Msg.Name)
	if err != nil {
		return nil, asConnectError(err)
	}
	s.publish(req.Msg.Token, ledger)
	return connect.NewResponse(&LedgerResponse{Ledger: ledger}), nil
}

// UpdateDate sets or clears the ledger date.
func (s *LedgerService) UpdateDate(ctx context.Context, req *connect.Request[UpdateDateRequest]) (*connect.Response[LedgerResponse], error) {
	date, err := models.ParseDate(req.Msg.Date)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	ledger, err := s.store.UpdateDate(ctx, req.Msg.Token, date)
	if err != nil {
		return nil, asConnectError(err)
	}
	s.publish(req.Msg.Token, ledger)
	return connect.NewResponse(&LedgerResponse{Ledger: ledger}), nil
}

// Settle freezes a balanced ledger.
func (s *LedgerService) Settle(ctx context.Context, req *connect.Request[TokenRequest]) (*connect.Response[LedgerResponse], error) {
	ledger, err := s.gate.Settle(ctx, req.Msg.Token)
	if err != nil {
		return nil, asConnectError(err)
	}
	return connect.NewResponse(&LedgerResponse{Ledger: ledger}), nil
}

// Unsettle reopens a settled ledger.
func (s *LedgerService) Unsettle(ctx context.Context, req *connect.Request[TokenRequest]) (*connect.Response[LedgerResponse], error) {
	ledger, err := s.gate.Unsettle(ctx, req.Msg.Token)
	if err != nil {
		return nil, asConnectError(err)
	}
	return connect.NewResponse(&LedgerResponse{Ledger: ledger}), nil
}

// DeleteLedger removes a ledger permanently. Requires the owner token
// minted at creation, presented as a bearer Authorization header.
func (s *LedgerService) DeleteLedger(ctx context.Context, req *connect.Request[TokenRequest]) (*connect.Response[DeleteLedgerResponse], error) {
	ownerToken := middleware.OwnerToken(ctx)
	if ownerToken == "" {
		return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrMissingOwnerToken)
	}
	if err := s.tokens.Authorize(ownerToken, req.Msg.Token); err != nil {
		return nil, asConnectError(err)
	}

	if err := s.store.Delete(ctx, req.Msg.Token); err != nil {
		return nil, asConnectError(err)
	}
	slog.Info("ledger deleted", "token", req.Msg.Token)
	return connect.NewResponse(&DeleteLedgerResponse{}), nil
}

func (s *LedgerService) publish(token string, ledger *models.Ledger) {
	if s.hub != nil {
		s.hub.PublishSnapshot(token, ledger)
	}
}

// asConnectError maps domain errors onto Connect codes.
func asConnectError(err error) *connect.Error {
	var (
		unbalanced *models.UnbalancedError
		duplicate  *models.DuplicateParticipantError
		validation *models.ValidationError
	)
	switch {
	case errors.Is(err, models.ErrInvalidToken):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, models.ErrLedgerSettled),
		errors.Is(err, models.ErrMinimumOneRow),
		errors.As(err, &unbalanced),
		errors.As(err, &duplicate):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.As(err, &validation):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, auth.ErrInvalidOwnerToken), errors.Is(err, auth.ErrMissingOwnerToken):
		return connect.NewError(connect.CodeUnauthenticated, err)
	case errors.Is(err, auth.ErrNotOwner), errors.Is(err, auth.ErrInvalidPasscode):
		return connect.NewError(connect.CodePermissionDenied, err)
	default:
		slog.Error("internal error", "error", err)
		return connect.NewError(connect.CodeInternal, err)
	}
}
