package model

import "time"

// Device is a client installation identified by a caller-supplied id.
//
// Fields:
//  ID        – device identifier supplied by the client.
//  AccountID – optional account the device belongs to.
//  UAHash    – hash of the user agent seen when the device was created.
//  CreatedAt – creation timestamp.
type Device struct {
	ID        string    // devices.id
	AccountID *string   // devices.account_id (nullable)
	UAHash    string    // devices.ua_hash
	CreatedAt time.Time // devices.created_at
}
