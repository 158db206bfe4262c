// Package model defines the shared domain types for the realtime layer:
// notification categories and events, client-side notification items, and
// message acknowledgments. Types here carry no behavior beyond validation
// helpers; ownership and mutation rules live with the components that hold
// them.
package model
