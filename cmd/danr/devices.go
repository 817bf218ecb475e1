package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	"github.com/danr/processor/internal/command"
	"github.com/danr/processor/internal/device"
	"github.com/danr/processor/internal/errorutil"
	"github.com/danr/processor/internal/httputil"
)

func (e *environment) now() time.Time {
	if e.clock != nil {
		return e.clock()
	}
	return time.Now().UTC()
}

func (e *environment) postDevice(w http.ResponseWriter, r *http.Request) {
	var d device.Device
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid device: %v", errorutil.ErrValidation, err))
		return
	}
	now := e.now()
	d.RegisteredAt, d.LastSeen = now, now
	if err := e.devices.Register(d); err != nil {
		writeError(w, r, err)
		return
	}
	registered, err := e.devices.Get(d.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	e.metrics.DevicesRegistered(len(e.devices.List()))
	log.Info().Str("device_id", d.ID).Str("model", d.Model).Msg("device registered")
	httputil.WriteData(w, http.StatusCreated, registered)
}

func (e *environment) getDevices(w http.ResponseWriter, r *http.Request) {
	httputil.WriteData(w, http.StatusOK, e.devices.List())
}

func (e *environment) deleteDevice(w http.ResponseWriter, r *http.Request) {
	ps := httprouter.ParamsFromContext(r.Context())
	id := ps.ByName("device_id")
	if err := e.devices.Unregister(id); err != nil {
		writeError(w, r, err)
		return
	}
	e.metrics.DevicesRegistered(len(e.devices.List()))
	httputil.WriteData(w, http.StatusOK, map[string]string{"id": id})
}

// postDeviceCommand validates a command for a registered device. Delivering
// it to the device is the relay's job.
func (e *environment) postDeviceCommand(w http.ResponseWriter, r *http.Request) {
	ps := httprouter.ParamsFromContext(r.Context())
	id := ps.ByName("device_id")
	if _, err := e.devices.Get(id); err != nil {
		writeError(w, r, err)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", errorutil.ErrValidation, err))
		return
	}
	c, err := command.Parse(body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	log.Info().Str("device_id", id).Str("command", string(c.Kind)).Str("command_id", c.ID).Msg("command accepted")
	httputil.WriteData(w, http.StatusAccepted, c)
}
