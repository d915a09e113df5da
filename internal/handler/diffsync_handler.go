package handler

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/Vishnu2508307/Test-sub032/internal/diffsync"
	"github.com/Vishnu2508307/Test-sub032/internal/domain"
	"github.com/Vishnu2508307/Test-sub032/internal/relay"
	"github.com/Vishnu2508307/Test-sub032/internal/websocket"

	"github.com/go-playground/validator/v10"
)

// SyncEngine is the slice of the diff-sync engine the message handler
// drives.
type SyncEngine interface {
	Start(ctx context.Context, entity domain.EntityRef, endpoint domain.EndpointRef, ch relay.Channel) (*diffsync.Session, error)
	SyncPatch(ctx context.Context, entity domain.EntityRef, endpoint domain.EndpointRef, patches []domain.Patch) (*domain.Ack, error)
	SyncAck(ctx context.Context, entity domain.EntityRef, endpoint domain.EndpointRef, ack domain.Ack) error
	End(ctx context.Context, entity domain.EntityRef, endpoint domain.EndpointRef) error
	ServerID() string
}

// DiffSyncHandler dispatches diff.sync.* messages from a connection to
// the engine and writes the ok/error replies back down the channel.
type DiffSyncHandler struct {
	engine   SyncEngine
	validate *validator.Validate
}

func NewDiffSyncHandler(engine SyncEngine) *DiffSyncHandler {
	return &DiffSyncHandler{
		engine:   engine,
		validate: validator.New(),
	}
}

func (h *DiffSyncHandler) HandleMessage(client *websocket.Client, msg *domain.Message) error {
	switch msg.Type {
	case domain.TypeStart:
		return h.handleStart(client, msg)

	case domain.TypePatch:
		return h.handlePatch(client, msg)

	case domain.TypeAck:
		return h.handleAck(client, msg)

	case domain.TypeEnd:
		return h.handleEnd(client, msg)

	case domain.TypePing:
		return h.reply(client, domain.TypePong, nil)

	default:
		log.Printf("unknown message type: %s", msg.Type)
	}

	return nil
}

func (h *DiffSyncHandler) handleStart(client *websocket.Client, msg *domain.Message) error {
	var payload domain.StartPayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		return h.replyError(client, domain.TypeStartError, http.StatusBadRequest, "invalid payload")
	}
	if err := h.validate.Struct(payload); err != nil {
		return h.replyError(client, domain.TypeStartError, http.StatusBadRequest, err.Error())
	}

	entity := domain.NewEntityRef(domain.EntityType(payload.EntityType), payload.EntityID)
	endpoint := h.endpoint(client)

	if _, err := h.engine.Start(client.Context(), entity, endpoint, client); err != nil {
		return h.replyError(client, domain.TypeStartError, errorCode(err), err.Error())
	}

	return h.reply(client, domain.TypeStartOK, nil)
}

func (h *DiffSyncHandler) handlePatch(client *websocket.Client, msg *domain.Message) error {
	var payload domain.PatchPayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		return h.replyError(client, domain.TypePatchError, http.StatusBadRequest, "invalid payload")
	}
	if err := h.validate.Struct(payload); err != nil {
		return h.replyError(client, domain.TypePatchError, http.StatusBadRequest, err.Error())
	}

	entity := domain.NewEntityRef(domain.EntityType(payload.EntityType), payload.EntityID)
	endpoint := h.endpoint(client)

	ack, err := h.engine.SyncPatch(client.Context(), entity, endpoint, payload.Patches)
	if err != nil {
		return h.replyError(client, domain.TypePatchError, errorCode(err), err.Error())
	}

	if err := h.reply(client, domain.TypePatchOK, nil); err != nil {
		return err
	}

	// The ack rides its own message so the client's sync loop can
	// discard its pending edit stack.
	ackMsg, err := domain.NewBroadcastMessage(domain.TypeAck, entity, domain.ServerEndpoint(h.engine.ServerID()), ack)
	if err != nil {
		return err
	}
	return client.Push(ackMsg)
}

func (h *DiffSyncHandler) handleAck(client *websocket.Client, msg *domain.Message) error {
	var payload domain.AckPayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		return h.replyError(client, domain.TypeAckError, http.StatusBadRequest, "invalid payload")
	}
	if err := h.validate.Struct(payload); err != nil {
		return h.replyError(client, domain.TypeAckError, http.StatusBadRequest, err.Error())
	}

	entity := domain.NewEntityRef(domain.EntityType(payload.EntityType), payload.EntityID)
	endpoint := h.endpoint(client)

	ack := domain.Ack{
		ClientID: client.ClientID(),
		N:        payload.N,
		M:        payload.M,
	}
	if err := h.engine.SyncAck(client.Context(), entity, endpoint, ack); err != nil {
		return h.replyError(client, domain.TypeAckError, errorCode(err), err.Error())
	}

	return h.reply(client, domain.TypeAckOK, nil)
}

func (h *DiffSyncHandler) handleEnd(client *websocket.Client, msg *domain.Message) error {
	var payload domain.EndPayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		return h.replyError(client, domain.TypeEndError, http.StatusBadRequest, "invalid payload")
	}
	if err := h.validate.Struct(payload); err != nil {
		return h.replyError(client, domain.TypeEndError, http.StatusBadRequest, err.Error())
	}

	entity := domain.NewEntityRef(domain.EntityType(payload.EntityType), payload.EntityID)
	endpoint := h.endpoint(client)

	if err := h.engine.End(client.Context(), entity, endpoint); err != nil {
		return h.replyError(client, domain.TypeEndError, errorCode(err), err.Error())
	}

	return h.reply(client, domain.TypeEndOK, nil)
}

func (h *DiffSyncHandler) endpoint(client *websocket.Client) domain.EndpointRef {
	return domain.ClientEndpoint(client.ClientID(), h.engine.ServerID())
}

func (h *DiffSyncHandler) reply(client *websocket.Client, msgType domain.MessageType, payload interface{}) error {
	msg, err := domain.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	return client.Push(msg)
}

func (h *DiffSyncHandler) replyError(client *websocket.Client, msgType domain.MessageType, code int, message string) error {
	return h.reply(client, msgType, &domain.ErrorPayload{
		Code:    code,
		Message: message,
	})
}

func errorCode(err error) int {
	switch {
	case errors.Is(err, diffsync.ErrInvalidEntity),
		errors.Is(err, diffsync.ErrEmptyPatchList):
		return http.StatusBadRequest
	case errors.Is(err, diffsync.ErrSessionNotFound),
		errors.Is(err, relay.ErrNotSubscribed):
		return http.StatusNotFound
	case errors.Is(err, relay.ErrAlreadySubscribed):
		return http.StatusConflict
	case errors.Is(err, relay.ErrSubscriptionLimit):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
