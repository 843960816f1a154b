package gateway

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/ilastik/blockpipeline/blockmodel"
	"github.com/ilastik/blockpipeline/internal/apierr"
)

// Server exposes the gateway's HTTP surface (spec §6): raw/prediction/
// labelimage ROI serving, introspection, and setup.
type Server struct {
	gw *Gateway
}

// NewServer wraps gw for HTTP access.
func NewServer(gw *Gateway) *Server {
	return &Server{gw: gw}
}

// Register installs the gateway routes on r.
func (s *Server) Register(r *mux.Router) {
	r.HandleFunc("/raw/{format}/roi", s.handleRaw).Methods(http.MethodGet)
	r.HandleFunc("/prediction/{format}/roi", s.handlePrediction).Methods(http.MethodGet)
	r.HandleFunc("/labelimage/{format}/roi", s.handleLabelImage).Methods(http.MethodGet)
	r.HandleFunc("/prediction/info/numclasses", s.handleNumClasses).Methods(http.MethodGet)
	r.HandleFunc("/raw/info/dtype", s.handleRawDType).Methods(http.MethodGet)
	r.HandleFunc("/raw/info/shape", s.handleRawShape).Methods(http.MethodGet)
	r.HandleFunc("/raw/info/dim", s.handleRawDim).Methods(http.MethodGet)
	r.HandleFunc("/setup", s.handleSetup).Methods(http.MethodPost)
}

func parseROI(r *http.Request) (blockmodel.ROI, error) {
	minStr := r.URL.Query().Get("extents_min")
	maxStr := r.URL.Query().Get("extents_max")
	begin, err := blockmodel.ParseCoord(minStr)
	if err != nil {
		return blockmodel.ROI{}, apierr.Validation("gateway: extents_min: %v", err)
	}
	end, err := blockmodel.ParseCoord(maxStr)
	if err != nil {
		return blockmodel.ROI{}, apierr.Validation("gateway: extents_max: %v", err)
	}
	roi := blockmodel.ROI{Begin: begin, End: end}
	if err := roi.Validate(); err != nil {
		return blockmodel.ROI{}, apierr.Validation("gateway: %v", err)
	}
	return roi, nil
}

func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	roi, err := parseROI(r)
	if err != nil {
		_ = apierr.WriteError(w, err)
		return
	}
	payload, err := s.gw.FetchRaw(r.Context(), roi)
	if err != nil {
		_ = apierr.WriteError(w, err)
		return
	}
	writePayload(w, r, payload)
}

func (s *Server) handlePrediction(w http.ResponseWriter, r *http.Request) {
	roi, err := parseROI(r)
	if err != nil {
		_ = apierr.WriteError(w, err)
		return
	}
	payload, err := s.gw.FetchPrediction(r.Context(), roi)
	if err != nil {
		_ = apierr.WriteError(w, err)
		return
	}
	writePayload(w, r, payload)
}

func (s *Server) handleLabelImage(w http.ResponseWriter, r *http.Request) {
	roi, err := parseROI(r)
	if err != nil {
		_ = apierr.WriteError(w, err)
		return
	}
	payload, err := s.gw.FetchLabelImage(r.Context(), roi)
	if err != nil {
		_ = apierr.WriteError(w, err)
		return
	}
	writePayload(w, r, payload)
}

func (s *Server) handleNumClasses(w http.ResponseWriter, r *http.Request) {
	n, ok := s.gw.NumClasses()
	if !ok {
		_ = apierr.WriteError(w, apierr.Configuration("gateway: not yet set up"))
		return
	}
	apierr.WritePlainText(w, strconv.Itoa(n))
}

func (s *Server) handleRawDType(w http.ResponseWriter, r *http.Request) {
	dtype, ok := s.gw.RawDType()
	if !ok {
		_ = apierr.WriteError(w, apierr.Configuration("gateway: not yet set up"))
		return
	}
	apierr.WritePlainText(w, string(dtype))
}

func (s *Server) handleRawShape(w http.ResponseWriter, r *http.Request) {
	shape, ok := s.gw.RawShape()
	if !ok {
		_ = apierr.WriteError(w, apierr.Configuration("gateway: not yet set up"))
		return
	}
	apierr.WritePlainText(w, shape.String())
}

func (s *Server) handleRawDim(w http.ResponseWriter, r *http.Request) {
	dim, ok := s.gw.Dim()
	if !ok {
		_ = apierr.WriteError(w, apierr.Configuration("gateway: not yet set up"))
		return
	}
	apierr.WritePlainText(w, strconv.Itoa(int(dim)))
}

type setupRequest struct {
	RawShape string `json:"raw_shape"`
	RawDType string `json:"raw_dtype"`
	Dim      int    `json:"dim"`
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = apierr.WriteError(w, apierr.Validation("gateway: decoding setup request: %v", err))
		return
	}
	shape, err := blockmodel.ParseCoord(req.RawShape)
	if err != nil {
		_ = apierr.WriteError(w, apierr.Validation("gateway: %v", err))
		return
	}
	dtype := blockmodel.DType(req.RawDType)
	if !dtype.Valid() {
		_ = apierr.WriteError(w, apierr.Validation("gateway: unknown dtype %q", req.RawDType))
		return
	}
	dim := blockmodel.Dim(req.Dim)
	if dim != blockmodel.Dim2 && dim != blockmodel.Dim3 {
		_ = apierr.WriteError(w, apierr.Validation("gateway: dim must be 2 or 3, got %d", req.Dim))
		return
	}
	if err := s.gw.Setup(context.Background(), shape, dtype, dim); err != nil {
		_ = apierr.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writePayload writes payload in the format named by the {format}
// route variable. "raw" streams the dense buffer as-is (spec §6:
// "densely packed little-endian elements"); "png" renders a single
// 2-D, single-channel slice as a grayscale image, the only other
// format this implementation encodes natively. tiff and hdf5 are
// accepted by the route but rejected with a validation error (see
// DESIGN.md).
func writePayload(w http.ResponseWriter, r *http.Request, payload blockmodel.Payload) {
	format := mux.Vars(r)["format"]
	switch format {
	case "raw":
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload.Bytes)
	case "png":
		img, err := encodePNG(payload)
		if err != nil {
			_ = apierr.WriteError(w, apierr.Validation("gateway: %v", err))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		_ = png.Encode(w, img)
	default:
		_ = apierr.WriteError(w, apierr.Validation("gateway: unsupported format %q (only raw and png are implemented)", format))
	}
}

// encodePNG renders a single (t=1,x,y,z=1,c=1) slice as an 8-bit
// grayscale image, clamping 16-bit/float sources into [0,255].
func encodePNG(payload blockmodel.Payload) (image.Image, error) {
	if payload.Shape[blockmodel.AxisT] != 1 || payload.Shape[blockmodel.AxisZ] != 1 || payload.Shape[blockmodel.AxisC] != 1 {
		return nil, apierr.Validation("png encoding requires a single t/z/c slice, got shape %s", payload.Shape)
	}
	nx := int(payload.Shape[blockmodel.AxisX])
	ny := int(payload.Shape[blockmodel.AxisY])
	img := image.NewGray(image.Rect(0, 0, nx, ny))
	elemSize := payload.DType.Size()
	for x := 0; x < nx; x++ {
		for y := 0; y < ny; y++ {
			off := (x*ny + y) * elemSize
			img.SetGray(x, y, color.Gray{Y: grayValue(payload.DType, payload.Bytes, off)})
		}
	}
	return img, nil
}

func grayValue(dtype blockmodel.DType, buf []byte, off int) uint8 {
	switch dtype {
	case blockmodel.DTypeUint8:
		return buf[off]
	case blockmodel.DTypeUint16:
		v := uint16(buf[off]) | uint16(buf[off+1])<<8
		return uint8(v >> 8)
	default:
		return 0
	}
}
