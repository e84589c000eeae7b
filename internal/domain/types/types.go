// Package types contains common types used across the application
package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownPosture is returned by ParsePosture for unrecognised values.
var ErrUnknownPosture = errors.New("unknown security posture")

// Posture selects how the pipeline behaves when a dependency is missing or down.
type Posture int

const (
	// Strict fails closed: store or verification outages reject submissions.
	Strict Posture = iota
	// Permissive fails open with a warning. Local development only.
	Permissive
)

func (p Posture) String() string {
	switch p {
	case Strict:
		return "strict"
	case Permissive:
		return "permissive"
	default:
		return fmt.Sprintf("posture(%d)", int(p))
	}
}

// ParsePosture accepts strict/production and permissive/development.
func ParsePosture(s string) (Posture, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict", "production", "prod":
		return Strict, nil
	case "permissive", "development", "dev":
		return Permissive, nil
	default:
		return Strict, fmt.Errorf("%w: %q", ErrUnknownPosture, s)
	}
}

// Endpoint names a class of submission endpoint. Each class has its own
// rate-limit policy.
type Endpoint string

const (
	EndpointContact      Endpoint = "contact"
	EndpointConsultation Endpoint = "consultation"
	EndpointWizard       Endpoint = "wizard"
	EndpointShowing      Endpoint = "showing"
	EndpointGeneral      Endpoint = "general"
)

// Endpoints lists every known endpoint class.
func Endpoints() []Endpoint {
	return []Endpoint{EndpointContact, EndpointConsultation, EndpointWizard, EndpointShowing, EndpointGeneral}
}

// Valid reports whether e is one of the known endpoint classes.
func (e Endpoint) Valid() bool {
	for _, known := range Endpoints() {
		if e == known {
			return true
		}
	}
	return false
}
