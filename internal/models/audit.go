package models

import "time"

// AuditOperation names a configuration operation recorded in the audit log.
type AuditOperation string

const (
	AuditCreate  AuditOperation = "create"
	AuditUpdate  AuditOperation = "update"
	AuditEnable  AuditOperation = "enable"
	AuditDisable AuditOperation = "disable"
	AuditDelete  AuditOperation = "delete"
	AuditVerify  AuditOperation = "verify"
	AuditRotate  AuditOperation = "rotate_key"
)

// AuditEntry is one append-only record of a configuration operation.
type AuditEntry struct {
	Id              string                 `json:"id" dynamodbav:"Id"`
	Timestamp       time.Time              `json:"timestamp" dynamodbav:"-"`
	UserId          string                 `json:"user_id" dynamodbav:"UserId"`
	Operation       AuditOperation         `json:"operation" dynamodbav:"Operation"`
	ConfigurationId string                 `json:"configuration_id,omitempty" dynamodbav:"ConfigurationId,omitempty"`
	ServerName      string                 `json:"server_name,omitempty" dynamodbav:"ServerName,omitempty"`
	Success         bool                   `json:"success" dynamodbav:"Success"`
	Error           string                 `json:"error,omitempty" dynamodbav:"Error,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty" dynamodbav:"Metadata,omitempty"`
}

// SecurityEvent records a URL rejected by the SSRF policy.
type SecurityEvent struct {
	Id        string    `json:"id" dynamodbav:"Id"`
	Timestamp time.Time `json:"timestamp" dynamodbav:"-"`
	UserId    string    `json:"user_id" dynamodbav:"UserId"`
	Url       string    `json:"url" dynamodbav:"Url"`
	Reason    string    `json:"reason" dynamodbav:"Reason"`
}
