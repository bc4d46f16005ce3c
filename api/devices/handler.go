// Package devices exposes device records, command dispatch and fleet
// statistics over HTTP.
package devices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kilianp07/smartdryer/core/command"
	"github.com/kilianp07/smartdryer/core/devicestate"
	"github.com/kilianp07/smartdryer/core/logger"
	"github.com/kilianp07/smartdryer/core/model"
	"github.com/kilianp07/smartdryer/core/store"
	"github.com/kilianp07/smartdryer/core/transport"
)

// DefaultListLimit caps list endpoints when no limit is given.
const DefaultListLimit = 100

// Registry is the device side used by the API.
type Registry interface {
	Register(ctx context.Context, serial, name, owner, location string, meta model.Value) (model.Device, error)
	Device(ctx context.Context, serial string) (model.Device, error)
	Devices(ctx context.Context, f store.DeviceFilter) ([]model.Device, error)
	Readings(ctx context.Context, f store.ReadingFilter) ([]model.SensorReading, error)
	Events(ctx context.Context, f store.EventFilter) ([]model.Event, error)
	Stats(ctx context.Context) (devicestate.SystemStats, error)
}

// Commands is the command side used by the API.
type Commands interface {
	Issue(ctx context.Context, serial, verb string, params model.Value, issuer string) (model.Command, error)
	History(ctx context.Context, f store.CommandFilter) ([]model.Command, error)
	Stats(ctx context.Context, serial string) (command.Stats, error)
}

// StatusSource reports the broker session state.
type StatusSource interface {
	Status() transport.Status
}

// API holds the handler dependencies.
type API struct {
	devices   Registry
	commands  Commands
	transport StatusSource
	log       logger.Logger
}

// New returns an API. transport may be nil, in which case the transport
// status endpoint reports a disconnected session.
func New(devices Registry, commands Commands, tr StatusSource, log logger.Logger) *API {
	return &API{devices: devices, commands: commands, transport: tr, log: logger.OrNop(log)}
}

// Routes returns the chi router serving the API.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", a.health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", a.systemStats)
		r.Get("/transport/status", a.transportStatus)
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", a.listDevices)
			r.Post("/", a.registerDevice)
			r.Route("/{serial}", func(r chi.Router) {
				r.Get("/", a.getDevice)
				r.Post("/commands", a.issueCommand)
				r.Get("/commands", a.listCommands)
				r.Get("/commands/stats", a.commandStats)
				r.Get("/events", a.listEvents)
				r.Get("/readings", a.listReadings)
			})
		})
	})
	return r
}

type errorBody struct {
	Error   string         `json:"error"`
	Command *model.Command `json:"command,omitempty"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Errorf("encode response: %v", err)
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidCommand), errors.Is(err, model.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrDeviceUnavailable), errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrTransport):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		a.log.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	} else {
		a.log.Debugf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	a.writeJSON(w, code, errorBody{Error: err.Error()})
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{model.ErrDecode}, args...)...)
}

func queryLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return DefaultListLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, badRequest("limit %q", s)
	}
	return n, nil
}

func querySince(r *http.Request) (time.Time, error) {
	s := r.URL.Query().Get("since")
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, badRequest("since %q is not RFC3339", s)
	}
	return t, nil
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) systemStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.devices.Stats(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, st)
}

func (a *API) transportStatus(w http.ResponseWriter, _ *http.Request) {
	st := transport.Status{Subscriptions: []string{}}
	if a.transport != nil {
		st = a.transport.Status()
	}
	a.writeJSON(w, http.StatusOK, st)
}

func (a *API) listDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.DeviceFilter{Owner: q.Get("owner"), Status: model.ConnStatus(q.Get("status"))}
	ds, err := a.devices.Devices(r.Context(), f)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, ds)
}

type registerRequest struct {
	Serial   string      `json:"serial"`
	Name     string      `json:"name"`
	Owner    string      `json:"owner"`
	Location string      `json:"location"`
	Meta     model.Value `json:"meta"`
}

func (a *API) registerDevice(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.fail(w, r, badRequest("invalid request payload: %v", err))
		return
	}
	d, err := a.devices.Register(r.Context(), req.Serial, req.Name, req.Owner, req.Location, req.Meta)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.log.Infof("registered device %s for %s", d.Serial, d.Owner)
	a.writeJSON(w, http.StatusCreated, d)
}

func (a *API) getDevice(w http.ResponseWriter, r *http.Request) {
	d, err := a.devices.Device(r.Context(), chi.URLParam(r, "serial"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, d)
}

type commandRequest struct {
	Command string      `json:"command"`
	Params  model.Value `json:"params"`
	Issuer  string      `json:"issuer"`
}

func (a *API) issueCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.fail(w, r, badRequest("invalid request payload: %v", err))
		return
	}
	cmd, err := a.commands.Issue(r.Context(), chi.URLParam(r, "serial"), req.Command, req.Params, req.Issuer)
	if err != nil {
		if errors.Is(err, model.ErrTransport) && cmd.ID != "" {
			// The record exists and stays pending; return it so the caller
			// can follow up on it.
			a.log.Warnf("command %s stored but not delivered: %v", cmd.ID, err)
			a.writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error(), Command: &cmd})
			return
		}
		a.fail(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, cmd)
}

func (a *API) listCommands(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	if _, err := a.devices.Device(r.Context(), serial); err != nil {
		a.fail(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	f := store.CommandFilter{DeviceSerial: serial, Limit: limit}
	if s := q.Get("status"); s != "" {
		f.Status = model.CommandStatus(s)
		if !f.Status.Valid() {
			a.fail(w, r, badRequest("status %q", s))
			return
		}
	}
	if s := q.Get("command"); s != "" {
		v, err := model.ParseVerb(s)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		f.Verb = v
	}
	cs, err := a.commands.History(r.Context(), f)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if cs == nil {
		cs = []model.Command{}
	}
	a.writeJSON(w, http.StatusOK, cs)
}

func (a *API) commandStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.commands.Stats(r.Context(), chi.URLParam(r, "serial"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, st)
}

func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	if _, err := a.devices.Device(r.Context(), serial); err != nil {
		a.fail(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	since, err := querySince(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	evs, err := a.devices.Events(r.Context(), store.EventFilter{
		DeviceSerial: serial, Type: r.URL.Query().Get("type"), Since: since, Limit: limit,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if evs == nil {
		evs = []model.Event{}
	}
	a.writeJSON(w, http.StatusOK, evs)
}

func (a *API) listReadings(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")
	if _, err := a.devices.Device(r.Context(), serial); err != nil {
		a.fail(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	since, err := querySince(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	f := store.ReadingFilter{DeviceSerial: serial, Since: since, Limit: limit}
	if s := r.URL.Query().Get("type"); s != "" {
		t, err := model.ParseSensorType(s)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		f.Type = t
	}
	rs, err := a.devices.Readings(r.Context(), f)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if rs == nil {
		rs = []model.SensorReading{}
	}
	a.writeJSON(w, http.StatusOK, rs)
}
