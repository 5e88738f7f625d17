package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"ShapeBot/internal/link"
	"ShapeBot/internal/model"
	"ShapeBot/internal/pinfield"
	"ShapeBot/internal/store"
)

type toggleRequest struct {
	On bool `json:"on"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type speedRequest struct {
	Speed string `json:"speed"`
}

type reopenRequest struct {
	Link   string `json:"link"`
	Device string `json:"device"`
}

type fieldResponse struct {
	Cols    int       `json:"cols"`
	Rows    int       `json:"rows"`
	Heights []float64 `json:"heights"`
}

func (a *App) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Warnf("failed to write response: %v", err)
	}
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer func() {
		if cerr := r.Body.Close(); cerr != nil {
			a.log.Warnf("failed to close request body: %v", cerr)
		}
	}()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

// submitted maps a Submit error to a response.
func (a *App) submitted(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, link.ErrClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleStatus reports engine, controller and link state.
func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.Sys.Status())
}

// handleField returns the current height field in meters, row-major.
func (a *App) handleField(w http.ResponseWriter, r *http.Request) {
	e := a.Sys.Display.Engine
	cfg := e.Config()
	a.writeJSON(w, http.StatusOK, fieldResponse{Cols: cfg.Cols, Rows: cfg.Rows, Heights: e.Snapshot()})
}

func (a *App) handleDisplayAction(w http.ResponseWriter, r *http.Request) {
	d := a.Sys.Display
	switch r.PathValue("action") {
	case "refresh":
		a.submitted(w, d.Refresh())
	case "reset":
		a.submitted(w, d.Reset())
	case "stop":
		a.submitted(w, d.Stop())
	case "setup":
		a.submitted(w, d.PushSlaveConfig())
	case "auto":
		var req toggleRequest
		if !a.decode(w, r, &req) {
			return
		}
		d.SetAuto(req.On)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (a *App) handleDisplayMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if !a.decode(w, r, &req) {
		return
	}
	m, err := pinfield.ParseMode(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.Sys.Display.Engine.SetMode(m)
	a.log.Infof("pin control mode set to %s", m)
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleDisplaySpeed(w http.ResponseWriter, r *http.Request) {
	var req speedRequest
	if !a.decode(w, r, &req) {
		return
	}
	s, err := pinfield.ParseSpeed(req.Speed)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.Sys.Display.Engine.SetSpeed(s)
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleRobotAction(w http.ResponseWriter, r *http.Request) {
	rob := a.Sys.Robot
	switch r.PathValue("action") {
	case "stop":
		a.submitted(w, rob.StopRobot())
	case "move":
		rob.Move()
		w.WriteHeader(http.StatusNoContent)
	case "auto":
		var req toggleRequest
		if !a.decode(w, r, &req) {
			return
		}
		rob.SetAuto(req.On)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

// handleRobotTarget sets the operator target. Only valid with a manual target source.
func (a *App) handleRobotTarget(w http.ResponseWriter, r *http.Request) {
	target := a.Sys.ManualTarget()
	if target == nil {
		http.Error(w, "target is not operator controlled", http.StatusConflict)
		return
	}
	var p model.Pose
	if !a.decode(w, r, &p) {
		return
	}
	target.Set(p)
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleReopen(w http.ResponseWriter, r *http.Request) {
	var req reopenRequest
	if !a.decode(w, r, &req) {
		return
	}
	var worker *link.Worker
	for _, l := range a.Sys.Links() {
		if l.Name() == req.Link {
			worker = l
		}
	}
	if worker == nil {
		http.Error(w, "unknown link "+strconv.Quote(req.Link), http.StatusNotFound)
		return
	}

	err := worker.Reopen(req.Device)
	switch {
	case err == nil:
		a.writeJSON(w, http.StatusOK, worker.Status())
	case errors.Is(err, link.ErrNoDevice):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

// handleLatestEvents returns recorded events of one link; n > 1 returns a window.
func (a *App) handleLatestEvents(w http.ResponseWriter, r *http.Request) {
	st := a.Sys.Store()
	if st == nil {
		http.Error(w, "event recording disabled", http.StatusServiceUnavailable)
		return
	}
	name := r.URL.Query().Get("link")
	if name == "" {
		name = "display"
	}

	n := 1
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			http.Error(w, "n must be a positive integer", http.StatusBadRequest)
			return
		}
		n = parsed
	}

	if n == 1 {
		ev, err := st.Latest(name)
		if errors.Is(err, store.ErrNoEvents) {
			http.Error(w, "no events for "+name, http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "failed to read events", http.StatusInternalServerError)
			return
		}
		a.writeJSON(w, http.StatusOK, ev)
		return
	}

	events, err := st.Recent(name, n)
	if err != nil {
		http.Error(w, "failed to read events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.InboundEvent{}
	}
	a.writeJSON(w, http.StatusOK, events)
}
