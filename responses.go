package main

import (
	"errors"
	"net/http"

	deverr "github.com/CodedInternet/gopigeon/onboard/errors"
	"github.com/CodedInternet/gopigeon/onboard/pigeon"
	"github.com/go-chi/render"
)

//---
// Error responses
//---

type ErrResponse struct {
	Err            error `json:"-"` // low-level runtime error
	HTTPStatusCode int   `json:"-"` // http response status code

	StatusText string `json:"status"`          // user-level status message
	ErrorCode  int32  `json:"code,omitempty"`  // device error code
	ErrorText  string `json:"error,omitempty"` // application-level error message, for debugging
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func ErrInvalidRequest(err error) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: http.StatusBadRequest,
		StatusText:     "Invalid request.",
		ErrorText:      err.Error(),
	}
}

func ErrRender(err error) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: http.StatusUnprocessableEntity,
		StatusText:     "Error rendering response.",
		ErrorText:      err.Error(),
	}
}

// ErrDevice maps a driver error onto a response. A Pigeon that cannot be heard is
// reported as unavailable.
func ErrDevice(err error) render.Renderer {
	code := deverr.Code(err)
	resp := &ErrResponse{
		Err:            err,
		HTTPStatusCode: http.StatusInternalServerError,
		StatusText:     "Device error.",
		ErrorCode:      int32(code),
		ErrorText:      err.Error(),
	}

	switch {
	case deverr.IsNoComm(err):
		resp.HTTPStatusCode = http.StatusServiceUnavailable
		resp.StatusText = "Pigeon is not responding."
	case deverr.IsTimeout(err):
		resp.HTTPStatusCode = http.StatusGatewayTimeout
		resp.StatusText = "Pigeon did not confirm in time."
	case code == deverr.InvalidParamValue:
		resp.HTTPStatusCode = http.StatusBadRequest
		resp.StatusText = "Invalid parameter value."
	}

	return resp
}

var ErrNotFound = &ErrResponse{HTTPStatusCode: http.StatusNotFound, StatusText: "Resource not found."}

//---
// Payloads
//---

type PigeonSummary struct {
	Name         string             `json:"name"`
	Label        string             `json:"label"`
	Bus          string             `json:"bus"`
	DeviceNumber int                `json:"device_number"`
	State        pigeon.PigeonState `json:"state"`
	LastError    int32              `json:"last_error"`
}

func (p *PigeonSummary) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

type StatusResponse struct {
	State            pigeon.PigeonState `json:"state"`
	Description      string             `json:"description"`
	CalibrationMode  string             `json:"calibration_mode"`
	CalibrationError int                `json:"calibration_error"`
	TempC            float64            `json:"temp_c"`
	UpTimeSec        int                `json:"up_time_sec"`
	ResetCount       int                `json:"reset_count"`
	ResetFlags       int                `json:"reset_flags"`
	FirmVers         string             `json:"firmware,omitempty"`
}

func (s *StatusResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

type YPRResponse struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

func (y *YPRResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

type FusedResponse struct {
	Heading     float64 `json:"heading"`
	Valid       bool    `json:"valid"`
	Fusing      bool    `json:"fusing"`
	Description string  `json:"description"`
}

func (f *FusedResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

type CompassResponse struct {
	Heading       float64 `json:"heading"`
	Absolute      float64 `json:"absolute"`
	FieldStrength float64 `json:"field_strength"`
}

func (c *CompassResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

// YawPayload sets the yaw, or adds to it when Add is true.
type YawPayload struct {
	Value *float64 `json:"value"`
	Add   bool     `json:"add"`
}

func (y *YawPayload) Bind(r *http.Request) error {
	if y.Value == nil {
		return errors.New("missing value")
	}
	return nil
}

type CalibrationPayload struct {
	Mode string `json:"mode"`

	mode pigeon.CalibrationMode
}

func (c *CalibrationPayload) Bind(r *http.Request) (err error) {
	c.mode, err = pigeon.ParseCalibrationMode(c.Mode)
	if err != nil {
		return errors.New("unknown calibration mode " + c.Mode)
	}
	return nil
}

type OKResponse struct {
	Status string `json:"status"`
}

func (o *OKResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}
