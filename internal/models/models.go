package models

import (
	"fmt"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether c lies inside the WGS84 latitude/longitude ranges.
func (c Coord) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

func (c Coord) String() string { return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon) }

// Stage is the lifecycle phase of a dispatch request.
type Stage string

const (
	StageInitial   Stage = "initial"
	StageSearching Stage = "searching"
	StageFound     Stage = "found"
	StageEnRoute   Stage = "enroute"
	StageArrived   Stage = "arrived"
)

// StatusCancelled marks a dispatch record whose request was abandoned.
const StatusCancelled = "cancelled"

// Rank orders stages along the lifecycle; unknown stages rank -1.
func (s Stage) Rank() int {
	switch s {
	case StageInitial:
		return 0
	case StageSearching:
		return 1
	case StageFound:
		return 2
	case StageEnRoute:
		return 3
	case StageArrived:
		return 4
	}
	return -1
}

// HasVehicle reports whether a vehicle is assigned in this stage.
func (s Stage) HasVehicle() bool {
	return s == StageFound || s == StageEnRoute || s == StageArrived
}

// Vehicle describes an ambulance offered to a request.
type Vehicle struct {
	ID            string `json:"id"`
	DriverName    string `json:"driver_name"`
	ContactNumber string `json:"contact_number"`
	VehicleType   string `json:"vehicle_type"`
	LicensePlate  string `json:"license_plate"`
	Position      Coord  `json:"position"`
}

// EmergencyService is an agency that can receive an alert.
type EmergencyService string

const (
	ServicePolice      EmergencyService = "police"
	ServiceAmbulance   EmergencyService = "ambulance"
	ServiceFireBrigade EmergencyService = "firebrigade"
)

func (s EmergencyService) Valid() bool {
	switch s {
	case ServicePolice, ServiceAmbulance, ServiceFireBrigade:
		return true
	}
	return false
}

type Alert struct {
	ID        string             `json:"id"`
	Services  []EmergencyService `json:"services"`
	Location  Coord              `json:"location"`
	Message   string             `json:"message"`
	CreatedAt time.Time          `json:"created_at"`
}

// DispatchRecord is the persisted history entry of one dispatch request.
type DispatchRecord struct {
	RequestID string
	SessionID string
	VehicleID string
	Origin    Coord
	Status    string // a Stage value, or "cancelled"
	CreatedAt time.Time
	UpdatedAt time.Time
}
