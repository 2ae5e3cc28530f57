package detection

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sentinel plate texts used when OCR cannot produce a reading.
const (
	PlateUnknown = "unknown"
	PlateError   = "error"
)

type VehicleType int

const (
	VehicleUnknown VehicleType = iota
	VehicleCar
	VehicleMotorcycle
	VehicleTruck
	VehicleBus
	VehicleVan
)

func (t VehicleType) String() string {
	switch t {
	case VehicleCar:
		return "Car"
	case VehicleMotorcycle:
		return "Motorcycle"
	case VehicleTruck:
		return "Truck"
	case VehicleBus:
		return "Bus"
	case VehicleVan:
		return "Van"
	default:
		return "Unknown"
	}
}

// BoundingBox is a pixel rectangle in the coordinate space of the full frame.
type BoundingBox struct {
	X      int `json:"X"`
	Y      int `json:"Y"`
	Width  int `json:"Width"`
	Height int `json:"Height"`
}

func (b BoundingBox) Area() int {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

func (b BoundingBox) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", b.X, b.Y, b.Width, b.Height)
}

// Candidate is one raw detector hit before OCR.
type Candidate struct {
	Box        BoundingBox `json:"box"`
	Confidence float64     `json:"confidence"`
}

// VehicleDetectionData is the record reported to the hub. Field names follow the
// hub's wire contract.
type VehicleDetectionData struct {
	ID               uuid.UUID   `json:"Id"`
	NodeID           string      `json:"NodeId"`
	NodeName         string      `json:"NodeName"`
	PlateNumber      string      `json:"PlateNumber"`
	PlateBoundingBox BoundingBox `json:"PlateBoundingBox"`
	Confidence       float64     `json:"Confidence"`
	DetectionTime    time.Time   `json:"DetectionTime"`
	Speed            float64     `json:"Speed"`
	SpeedLimit       float64     `json:"SpeedLimit"`
	IsSpeedViolation bool        `json:"IsSpeedViolation"`
	VehicleType      VehicleType `json:"VehicleType"`
	ImageFileName    string      `json:"ImageFileName,omitempty"`
	OcrConfidence    float64     `json:"OcrConfidence"`
}

// HasPlate reports whether the plate text is a real reading rather than a sentinel.
func (d VehicleDetectionData) HasPlate() bool {
	return d.PlateNumber != "" && d.PlateNumber != PlateUnknown && d.PlateNumber != PlateError
}

// ApplySpeed sets the speed fields; the violation flag is always derived.
func (d *VehicleDetectionData) ApplySpeed(speed, limit float64) {
	d.Speed = speed
	d.SpeedLimit = limit
	d.IsSpeedViolation = speed > limit
}

type NodeRegistration struct {
	NodeID   string `json:"NodeId"`
	NodeName string `json:"NodeName"`
}

// SubmitResponse mirrors the hub's ApiResponse envelope for a submitted detection.
type SubmitResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    string `json:"data,omitempty"`
}
