// Package domain defines the charging infrastructure entities synchronized
// with roaming partners.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyID is returned when parsing a blank identifier.
var ErrEmptyID = errors.New("domain: empty identifier")

// EntityKind identifies one of the synchronized infrastructure kinds.
type EntityKind int

const (
	KindRoamingNetwork EntityKind = iota + 1
	KindOperator
	KindPool
	KindStation
	KindEVSE
)

var kindNames = map[EntityKind]string{
	KindRoamingNetwork: "roaming_network",
	KindOperator:       "charging_station_operator",
	KindPool:           "charging_pool",
	KindStation:        "charging_station",
	KindEVSE:           "evse",
}

func (k EntityKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseEntityKind accepts the String form of a kind.
func ParseEntityKind(s string) (EntityKind, error) {
	for k, n := range kindNames {
		if strings.EqualFold(n, s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("domain: unknown entity kind %q", s)
}

// ID is the constraint satisfied by every typed identifier.
type ID interface {
	~string
}

type (
	RoamingNetworkID string
	OperatorID       string
	PoolID           string
	StationID        string
	EVSEID           string
)

// NormalizeKey returns the case-insensitive map key for an identifier.
func NormalizeKey(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// Key returns the normalized key of a typed identifier.
func Key[I ID](id I) string {
	return NormalizeKey(string(id))
}

// SameID reports whether two identifiers are equal ignoring case.
func SameID[I ID](a, b I) bool {
	return Key(a) == Key(b)
}

func parseID[I ID](kind EntityKind, s string) (I, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("parse %s id: %w", kind, ErrEmptyID)
	}
	return I(s), nil
}

func ParseRoamingNetworkID(s string) (RoamingNetworkID, error) {
	return parseID[RoamingNetworkID](KindRoamingNetwork, s)
}

func ParseOperatorID(s string) (OperatorID, error) {
	return parseID[OperatorID](KindOperator, s)
}

func ParsePoolID(s string) (PoolID, error) {
	return parseID[PoolID](KindPool, s)
}

func ParseStationID(s string) (StationID, error) {
	return parseID[StationID](KindStation, s)
}

func ParseEVSEID(s string) (EVSEID, error) {
	return parseID[EVSEID](KindEVSE, s)
}
