// Package storage keeps the delivery history: one record per attempted
// target, appended after every dispatch and queried by the HTTP API.
//
// History is an audit trail only. Nothing is replayed from it on startup.
package storage
