package model

import (
	"encoding/json"
	"fmt"
)

const (
	SyncTypePull = "pull"
	SyncTypePush = "push"
)

// JobDescriptor is a sync request received over NATS or built by the CLI.
type JobDescriptor struct {
	SyncID               string `json:"sync_id" validate:"required"`
	SyncType             string `json:"sync_type" validate:"required,oneof=pull push"`
	ExternalSystemParams string `json:"external_system_params" validate:"required"`
	MemberIDs            []uint `json:"member_ids,omitempty" validate:"required_if=SyncType push"`
	Force                bool   `json:"force,omitempty"`
}

// PullParams is the decoded external_system_params of a pull.
type PullParams struct {
	PullJob string `json:"pull_job"`
}

// PushParams is the decoded external_system_params of a push.
type PushParams struct {
	CampaignID json.Number `json:"campaign_id"`
}

// DecodePullParams parses external_system_params for a pull job.
func (j JobDescriptor) DecodePullParams() (PullParams, error) {
	var p PullParams
	if err := json.Unmarshal([]byte(j.ExternalSystemParams), &p); err != nil {
		return p, fmt.Errorf("decode pull params: %w", err)
	}
	return p, nil
}

// DecodePushParams parses external_system_params for a push job.
func (j JobDescriptor) DecodePushParams() (PushParams, error) {
	var p PushParams
	if err := json.Unmarshal([]byte(j.ExternalSystemParams), &p); err != nil {
		return p, fmt.Errorf("decode push params: %w", err)
	}
	return p, nil
}

// JobReply is sent back to a NATS requester.
type JobReply struct {
	SyncID      string      `json:"sync_id"`
	Description string      `json:"description,omitempty"`
	CampaignURL string      `json:"campaign_url,omitempty"`
	Success     bool        `json:"success"`
	Error       string      `json:"error,omitempty"`
	Retryable   bool        `json:"retryable,omitempty"`
	Pull        *PullReply  `json:"pull,omitempty"`
	Push        []PushReply `json:"push,omitempty"`
}

// PullReply mirrors a pull result on the wire.
type PullReply struct {
	Count    int      `json:"count"`
	IDs      []int64  `json:"ids"`
	Audit    AuditMap `json:"audit"`
	Deferred bool     `json:"deferred"`
}

// AuditMap is the {scope, from, to} block of a pull reply.
type AuditMap struct {
	Scope string  `json:"scope,omitempty"`
	From  *string `json:"from,omitempty"`
	To    *string `json:"to,omitempty"`
}

// PushReply is one yielded batch.
type PushReply struct {
	BatchIndex int `json:"batch_index"`
	WriteCount int `json:"write_result_count"`
}
