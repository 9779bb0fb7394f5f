// Package api exposes the amplifier controller over HTTP: a small REST
// surface for commands and snapshots, and a WebSocket change stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/breatheaudio/elevate"
)

// Controller is the slice of the core this package needs.
type Controller interface {
	SendCommand(ctx context.Context, zone int, kind elevate.CommandKind, value int) error
	State(zone int) (elevate.Zone, bool)
	Zones() []elevate.Zone
	Changes(buffer int) *elevate.Subscription
	LinkState() elevate.LinkState
	RestoreZone(ctx context.Context, z elevate.Zone) error
}

type api struct {
	ctrl Controller
	log  *zap.SugaredLogger
}

// New builds the router.
func New(ctrl Controller, log *zap.SugaredLogger) *mux.Router {
	a := &api{ctrl: ctrl, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/zones", a.listZones).Methods("GET")
	r.HandleFunc("/link", a.linkStatus).Methods("GET")
	r.HandleFunc("/ws", a.stream).Methods("GET")
	r.HandleFunc("/zones/{zone}", a.zoneHandler(a.status)).Methods("GET")
	r.HandleFunc("/zones/{zone}/power/{state}", a.command(boolKind(elevate.PowerOn, elevate.PowerOff), "state")).Methods("PUT")
	r.HandleFunc("/zones/{zone}/mute/{state}", a.command(boolKind(elevate.MuteOn, elevate.MuteOff), "state")).Methods("PUT")
	r.HandleFunc("/zones/{zone}/volume/up", a.command(fixedKind(elevate.VolumeUp), "")).Methods("PUT")
	r.HandleFunc("/zones/{zone}/volume/down", a.command(fixedKind(elevate.VolumeDown), "")).Methods("PUT")
	r.HandleFunc("/zones/{zone}/volume/{level}", a.command(intKind(elevate.SetVolume), "level")).Methods("PUT")
	r.HandleFunc("/zones/{zone}/source/{source}", a.command(intKind(elevate.SetSource), "source")).Methods("PUT")
	r.HandleFunc("/zones/{zone}/bass/{level}", a.command(intKind(elevate.SetBass), "level")).Methods("PUT")
	r.HandleFunc("/zones/{zone}/treble/{level}", a.command(intKind(elevate.SetTreble), "level")).Methods("PUT")
	r.HandleFunc("/zones/{zone}/balance/{level}", a.command(intKind(elevate.SetBalance), "level")).Methods("PUT")
	r.HandleFunc("/zones/{zone}/restore", a.zoneHandler(a.restore)).Methods("PUT")
	return r
}

// argParser turns a path variable into a command kind and value.
type argParser func(raw string) (elevate.CommandKind, int, error)

func boolKind(on, off elevate.CommandKind) argParser {
	return func(raw string) (elevate.CommandKind, int, error) {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return 0, 0, err
		}
		if b {
			return on, 0, nil
		}
		return off, 0, nil
	}
}

func intKind(kind elevate.CommandKind) argParser {
	return func(raw string) (elevate.CommandKind, int, error) {
		v, err := strconv.Atoi(raw)
		return kind, v, err
	}
}

func fixedKind(kind elevate.CommandKind) argParser {
	return func(string) (elevate.CommandKind, int, error) {
		return kind, 0, nil
	}
}

func (a *api) listZones(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.ctrl.Zones())
}

func (a *api) linkStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"link": a.ctrl.LinkState().String()})
}

func (a *api) zoneHandler(handler func(zone int, w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		id, err := strconv.Atoi(vars["zone"])
		if err != nil {
			a.log.Debugw("bad zone in path", "zone", vars["zone"], "err", err)
			http.Error(w, "zone must be numeric", http.StatusBadRequest)
			return
		}
		handler(id, w, r)
	}
}

func (a *api) command(parse argParser, varName string) http.HandlerFunc {
	return a.zoneHandler(func(zone int, w http.ResponseWriter, r *http.Request) {
		raw := ""
		if varName != "" {
			raw = mux.Vars(r)[varName]
		}
		kind, value, err := parse(raw)
		if err != nil {
			a.log.Debugw("bad command argument", "arg", raw, "err", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := a.ctrl.SendCommand(r.Context(), zone, kind, value); err != nil {
			a.writeCommandError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{})
	})
}

func (a *api) status(zone int, w http.ResponseWriter, r *http.Request) {
	z, ok := a.ctrl.State(zone)
	if !ok {
		http.Error(w, "zone not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, z)
}

func (a *api) restore(zone int, w http.ResponseWriter, r *http.Request) {
	z, ok := a.ctrl.State(zone)
	if !ok {
		http.Error(w, "zone not found", http.StatusNotFound)
		return
	}
	if err := a.ctrl.RestoreZone(r.Context(), z); err != nil {
		a.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, z)
}

func (a *api) writeCommandError(w http.ResponseWriter, err error) {
	a.log.Warnw("command failed", "err", err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, elevate.ErrInvalidCommand):
		status = http.StatusBadRequest
	case errors.Is(err, elevate.ErrCommandTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, elevate.ErrLinkLost), errors.Is(err, elevate.ErrStaleCommand), errors.Is(err, elevate.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
