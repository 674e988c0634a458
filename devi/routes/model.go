package routes

import (
	"devi/devi/controllers"
	"devi/devi/sources/storage"
	"devi/devi/utils/logging"
	"devi/devi/utils/types"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// maxBatchBody caps POST /model bodies.
const maxBatchBody = 64 << 10

func ModelRoutes(ctrl *controllers.ModelController) chi.Router {
	r := chi.NewRouter()

	// POST /model : {prompts, userId} -> {response, id}
	r.Post("/", handleJSON(func(r *http.Request) (any, int, error) {
		var req types.ModelRequest
		if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBatchBody)).Decode(&req); err != nil {
			return nil, http.StatusBadRequest, err
		}
		resp, err := ctrl.Respond(r.Context(), req)
		if err != nil {
			return nil, statusFor(err), err
		}
		return resp, http.StatusOK, nil
	}))

	// GET /model/ws : one request frame in, one frame per reply out, then "done"
	r.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.CloseNow()
		conn.SetReadLimit(maxBatchBody)

		ctx := r.Context()
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			conn.Close(websocket.StatusUnsupportedData, "unsupported data")
			return
		}
		var req types.ModelRequest
		if err := json.Unmarshal(data, &req); err != nil {
			writeFrame(r, conn, types.WSFrame{Type: "error", Error: "invalid json"})
			conn.Close(websocket.StatusPolicyViolation, "invalid json")
			return
		}

		resp, err := ctrl.Respond(ctx, req)
		if err != nil {
			writeFrame(r, conn, types.WSFrame{Type: "error", Error: err.Error()})
			if errors.Is(err, controllers.ErrInvalidRequest) {
				conn.Close(websocket.StatusPolicyViolation, "invalid request")
			} else {
				conn.Close(websocket.StatusInternalError, "model error")
			}
			return
		}
		for _, text := range resp.Response {
			if err := writeFrame(r, conn, types.WSFrame{Type: "reply", Text: text}); err != nil {
				return
			}
		}
		if err := writeFrame(r, conn, types.WSFrame{Type: "done", ID: resp.ID}); err != nil {
			return
		}
		conn.Close(websocket.StatusNormalClosure, "")
	})
	return r
}

func writeFrame(r *http.Request, conn *websocket.Conn, frame types.WSFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if err := conn.Write(r.Context(), websocket.MessageText, data); err != nil {
		logging.AppLogger.Warn("websocket write failed", zap.Error(err))
		return err
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, controllers.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrExchangeNotFound):
		return http.StatusNotFound
	case errors.Is(err, controllers.ErrHistoryUnavailable),
		errors.Is(err, controllers.ErrArchiveUnavailable),
		errors.Is(err, controllers.ErrMissingSecret):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}
