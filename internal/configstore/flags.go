package configstore

// Flag names from spec.md §3's feature-flag table, collected in one place
// so call sites never hand-roll a string key.
const (
	FlagQueueKillAll              = "queue.kill_all"
	FlagRunnerEnabled             = "queue.runner.enabled"
	FlagWebhookEnabled            = "webhook.enabled"
	FlagWebhookFanoutEnabled      = "webhook.fanout.enabled"
	FlagVendHTTPEnabled           = "vend.http.enabled"
	FlagVendQueueContinuous       = "vend.queue.continuous.enabled"
	FlagVendQueueMaxConcurrency   = "vend.queue.max_concurrency." // + type
	FlagVendQueuePause            = "vend_queue_pause."           // + type
	FlagVendWebhookHMACRequired   = "vend.webhook.hmac_required"
	FlagVendWebhookToleranceS     = "vend.webhook.tolerance_s"
	FlagVendWebhookOpenMode       = "vend.webhook.open_mode"
	FlagVendWebhookOpenModeUntil  = "vend.webhook.open_mode_until"
	FlagVendQueueAutoKickEnabled  = "vend.queue.auto_kick.enabled"
	FlagUIReadonly                = "ui.readonly"
	FlagUIDisablePrefix           = "ui.disable." // + feature
	FlagInventoryKillAll          = "inventory.kill_all"
	FlagVendAPIBase               = "vend.api_base"
	FlagVendRetryAttempts         = "vend.retry_attempts"
	FlagVendTimeoutSeconds        = "vend.timeout_seconds"
	FlagVendHTTPRateLimitPerMin   = "vend.http.rate_limit_per_min"
	FlagVendWebhookSecret         = "vend_webhook_secret"
	FlagVendWebhookSecretPrev     = "vend_webhook_secret_prev"
	FlagVendWebhookSecretPrevExp  = "vend_webhook_secret_prev_expires_at"
	FlagVendQueueRuntimeBusiness  = "vend_queue_runtime_business"
	FlagVendQueueDisableSingleFl  = "vend_queue_disable_singleflight"
	FlagAdminBearerToken          = "ADMIN_BEARER_TOKEN"
	FlagAdminBearerTokenPrevExp   = "ADMIN_BEARER_TOKEN_PREV_EXPIRES_AT"
	FlagVendQueueBatchLimit       = "vend.queue.batch_limit"
	FlagVendPullPageSize          = "vend.pull.page_size"
)

// Defaults mirror the defaults named inline throughout spec.md §3/§4.
const (
	DefaultMaxConcurrencyPerType = 1
	DefaultWebhookToleranceS     = 300
	DefaultVendRetryAttempts     = 3
	DefaultVendTimeoutSeconds    = 30
	DefaultVendRateLimitPerMin   = 120
	DefaultRunnerBatchLimit      = 200
	DefaultRunnerRuntimeBusiness = 120
)
