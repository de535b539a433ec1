package main

import (
	"context"
	"net/http"

	"github.com/CodedInternet/gopigeon/comms"
	"github.com/CodedInternet/gopigeon/onboard"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type ctxKey string

const pigeonCtxKey ctxKey = "pigeon"

// NewRouter builds the HTTP API for every Pigeon in ob. Streaming is served by conductor.
func NewRouter(ob *onboard.Onboard, conductor *comms.Conductor) chi.Router {
	r := chi.NewRouter()

	// A good base middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.RedirectSlashes)
	r.Use(middleware.Recoverer) // make sure this is last

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Get("/pigeons", listPigeons(ob))

		r.Route("/pigeons/{name}", func(r chi.Router) {
			r.Use(pigeonCtx(ob))

			r.Get("/", getSummary)
			r.Get("/status", getStatus)
			r.Get("/ypr", getYPR)
			r.Get("/fused", getFused)
			r.Get("/compass", getCompass)
			r.Post("/yaw", postYaw)
			r.Post("/calibration", postCalibration)
		})
	})

	if conductor != nil {
		r.Get("/ws/stream", conductor.ServeWS)
	}

	return r
}

// pigeonCtx loads the named Pigeon into the request context.
func pigeonCtx(ob *onboard.Onboard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			device, err := ob.Pigeon(chi.URLParam(r, "name"))
			if err != nil {
				render.Render(w, r, ErrNotFound)
				return
			}

			ctx := context.WithValue(r.Context(), pigeonCtxKey, device)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func deviceFrom(r *http.Request) *onboard.Device {
	return r.Context().Value(pigeonCtxKey).(*onboard.Device)
}

func summarize(device *onboard.Device) *PigeonSummary {
	state, _ := device.GetState()
	return &PigeonSummary{
		Name:         device.Name,
		Label:        device.String(),
		Bus:          device.Bus,
		DeviceNumber: device.GetDeviceNumber(),
		State:        state,
		LastError:    int32(device.GetLastError()),
	}
}

func listPigeons(ob *onboard.Onboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := []render.Renderer{}
		for _, name := range ob.Names() {
			list = append(list, summarize(ob.Pigeons[name]))
		}

		if err := render.RenderList(w, r, list); err != nil {
			render.Render(w, r, ErrRender(err))
		}
	}
}

func getSummary(w http.ResponseWriter, r *http.Request) {
	if err := render.Render(w, r, summarize(deviceFrom(r))); err != nil {
		render.Render(w, r, ErrRender(err))
	}
}

func getStatus(w http.ResponseWriter, r *http.Request) {
	device := deviceFrom(r)

	status, err := device.GetGeneralStatus()
	if err != nil {
		render.Render(w, r, ErrDevice(err))
		return
	}

	resp := &StatusResponse{
		State:            status.State,
		Description:      status.Description,
		CalibrationMode:  status.CurrentMode.String(),
		CalibrationError: status.CalibrationError,
		TempC:            status.TempC,
		UpTimeSec:        status.UpTimeSec,
	}

	// the startup frame is optional, it is only sent when the Pigeon boots
	if count, err := device.GetResetCount(); err == nil {
		resp.ResetCount = count
		resp.ResetFlags, _ = device.GetResetFlags()
		if vers, err := device.GetFirmVers(); err == nil {
			resp.FirmVers = firmwareString(vers)
		}
	}

	render.Render(w, r, resp)
}

func getYPR(w http.ResponseWriter, r *http.Request) {
	ypr, err := deviceFrom(r).GetYawPitchRoll()
	if err != nil {
		render.Render(w, r, ErrDevice(err))
		return
	}

	render.Render(w, r, &YPRResponse{Yaw: ypr[0], Pitch: ypr[1], Roll: ypr[2]})
}

func getFused(w http.ResponseWriter, r *http.Request) {
	fused, err := deviceFrom(r).GetFusedHeading()
	if err != nil {
		render.Render(w, r, ErrDevice(err))
		return
	}

	render.Render(w, r, &FusedResponse{
		Heading:     fused.Heading,
		Valid:       fused.IsValid,
		Fusing:      fused.IsFusing,
		Description: fused.Description,
	})
}

func getCompass(w http.ResponseWriter, r *http.Request) {
	device := deviceFrom(r)

	heading, err := device.GetCompassHeading()
	if err != nil {
		render.Render(w, r, ErrDevice(err))
		return
	}
	absolute, _ := device.GetAbsoluteCompassHeading()
	field, _ := device.GetCompassFieldStrength()

	render.Render(w, r, &CompassResponse{Heading: heading, Absolute: absolute, FieldStrength: field})
}

func postYaw(w http.ResponseWriter, r *http.Request) {
	device := deviceFrom(r)

	data := &YawPayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	var err error
	if data.Add {
		err = device.AddYaw(*data.Value, device.TimeoutMs)
	} else {
		err = device.SetYaw(*data.Value, device.TimeoutMs)
	}
	if err != nil {
		render.Render(w, r, ErrDevice(err))
		return
	}

	render.Render(w, r, &OKResponse{Status: "ok"})
}

func postCalibration(w http.ResponseWriter, r *http.Request) {
	device := deviceFrom(r)

	data := &CalibrationPayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	if err := device.EnterCalibrationMode(data.mode, device.TimeoutMs); err != nil {
		render.Render(w, r, ErrDevice(err))
		return
	}

	render.Render(w, r, &OKResponse{Status: "ok"})
}
