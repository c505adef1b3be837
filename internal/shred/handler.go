package shred

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/risechain/rise-indexer/internal/apperr"
)

// envelope is the loose JSON-RPC 2.0 shape the feed sends, per spec §4.7/§6.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
	Method  string          `json:"method"`
	Params  *params         `json:"params"`
}

type params struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// Handler implements the dispatch table from spec §4.7.
type Handler struct {
	manager *Manager
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// HandleText parses one inbound text frame and dispatches it.
func (h *Handler) HandleText(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Debug("shred handler: dropping unparseable frame", "err", err)
		return
	}

	switch {
	case len(env.Error) > 0:
		log.Error("shred handler: upstream reported an error", "err", apperr.New(apperr.Provider, "feed", jsonErr(env.Error)))

	case env.ID != nil && len(env.Result) > 0:
		var subID string
		if err := json.Unmarshal(env.Result, &subID); err == nil {
			log.Info("shred handler: subscription acknowledged", "id", *env.ID, "subscription", subID)
		} else {
			log.Debug("shred handler: response to request had unexpected result shape", "id", *env.ID)
		}

	case env.Method != "" && env.ID == nil:
		h.handleNotification(env)

	default:
		log.Debug("shred handler: dropping unrecognized frame", "raw", string(raw))
	}
}

func (h *Handler) handleNotification(env envelope) {
	if env.Params == nil || len(env.Params.Result) == 0 {
		log.Debug("shred handler: notification missing params.result")
		return
	}
	var s Shred
	if err := json.Unmarshal(env.Params.Result, &s); err != nil {
		log.Warn("shred handler: failed to decode shred", "err", apperr.New(apperr.Parse, "decode_shred", err))
		return
	}

	now := time.Now()
	h.manager.NoteArrival(&s, now)
	h.manager.Ingest(s, now)
}

// jsonErr renders a raw JSON-RPC error object as a Go error without
// depending on its exact shape.
func jsonErr(raw json.RawMessage) error {
	var v struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &v); err != nil || v.Message == "" {
		return errString(string(raw))
	}
	return errString(v.Message)
}

type errString string

func (e errString) Error() string { return string(e) }
