// Package safety implements the content safety gate that screens user input
// before any agent sees it and agent output before it is recorded.
//
// The Gate applies per-category severity thresholds (0..7, -1 disables a
// category) and a case-insensitive term blocklist on top of the raw scores
// produced by a core.Classifier. Classifier failures and timeouts produce an
// "unavailable" verdict and the gate fails open; this is logged at WARN.
//
// Two classifier backends are provided: AzureClassifier (Azure AI Content
// Safety REST API) and OpenAIClassifier (OpenAI moderation endpoint).
package safety
