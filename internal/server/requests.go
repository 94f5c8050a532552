package server

// Request types for WebSocket commands with validation tags.
// These types define the expected input for each command and use
// go-playground/validator struct tags for automatic validation.

// --- Monitoring ---

// ThresholdUpdateRequest is the request body for threshold/update.
// Out-of-range values are clamped, not rejected.
type ThresholdUpdateRequest struct {
	ThresholdDB *float64 `json:"threshold_db" validate:"required"`
}

// AudioUpdateRequest is the request body for audio/update.
type AudioUpdateRequest struct {
	Input string `json:"input" validate:"omitempty,max=256"`
}

// EventsListRequest is the request body for events/list.
type EventsListRequest struct {
	Limit  int    `json:"limit" validate:"omitempty,gte=1,lte=500"`
	Offset int    `json:"offset" validate:"omitempty,gte=0"`
	Filter string `json:"filter" validate:"omitempty,oneof=session alert clip"`
}

// --- Notification settings ---

// WebhookUpdateRequest is the request body for notifications/webhook/update.
type WebhookUpdateRequest struct {
	URL string `json:"url" validate:"omitempty,http_url,max=2048"`
}

// LogUpdateRequest is the request body for notifications/log/update.
type LogUpdateRequest struct {
	Path string `json:"path" validate:"omitempty,max=4096"`
}

// EmailUpdateRequest is the request body for notifications/email/update.
type EmailUpdateRequest struct {
	TenantID     string `json:"tenant_id" validate:"omitempty,max=100"`
	ClientID     string `json:"client_id" validate:"omitempty,max=100"`
	ClientSecret string `json:"client_secret" validate:"omitempty,max=500"`
	FromAddress  string `json:"from_address" validate:"omitempty,email,max=254"`
	Recipients   string `json:"recipients" validate:"omitempty,max=1000"`
}

// MQTTUpdateRequest is the request body for notifications/mqtt/update.
type MQTTUpdateRequest struct {
	Broker   string `json:"broker" validate:"omitempty,url,max=2048"`
	Topic    string `json:"topic" validate:"omitempty,max=256"`
	ClientID string `json:"client_id" validate:"omitempty,max=23"`
	Username string `json:"username" validate:"omitempty,max=256"`
	Password string `json:"password" validate:"omitempty,max=500"`
}

// KafkaUpdateRequest is the request body for notifications/kafka/update.
type KafkaUpdateRequest struct {
	Brokers string `json:"brokers" validate:"omitempty,max=2048"`
	Topic   string `json:"topic" validate:"omitempty,max=249"`
}

// --- Alert clips ---

// ClipsUpdateRequest is the request body for clips/update.
type ClipsUpdateRequest struct {
	Enabled           bool   `json:"enabled"`
	Seconds           int    `json:"seconds" validate:"omitempty,gte=1,lte=60"`
	RetentionDays     int    `json:"retention_days" validate:"omitempty,gte=0,lte=3650"`
	S3Endpoint        string `json:"s3_endpoint" validate:"omitempty,url,max=2048"`
	S3Bucket          string `json:"s3_bucket" validate:"omitempty,max=63"`
	S3AccessKeyID     string `json:"s3_access_key_id" validate:"omitempty,max=128"`
	S3SecretAccessKey string `json:"s3_secret_access_key" validate:"omitempty,max=256"`
	S3Prefix          string `json:"s3_prefix" validate:"omitempty,max=512"`
}

// S3TestRequest is the request body for clips/test-s3. An empty secret
// tests with the stored one.
type S3TestRequest struct {
	Endpoint  string `json:"s3_endpoint" validate:"omitempty,max=2048"`
	Bucket    string `json:"s3_bucket" validate:"required,max=63"`
	AccessKey string `json:"s3_access_key_id" validate:"required,max=128"`
	SecretKey string `json:"s3_secret_access_key" validate:"omitempty,max=256"`
}
