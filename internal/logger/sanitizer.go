package logger

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Sanitizer 負責過濾日誌中的敏感資訊
//
// 限制說明：
//   - SanitizeArgs() 僅對「敏感 key 的 value」進行遮罩（如 secret_key、authorization 等）
//   - 若敏感資料藏在非敏感 key 的 value 中，只有符合 Sanitize 規則的片段會被遮罩
//   - 範例：logger.Info("msg", "url", "https://host/?X-Amz-Signature=abc")
//     會被規則遮罩，但任意自訂格式不會
type Sanitizer struct {
	mu       sync.RWMutex
	patterns []SanitizeRule
}

// SanitizeRule 單一過濾規則
type SanitizeRule struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// NewSanitizer 建立預設 sanitizer
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns: defaultSanitizeRules(),
	}
}

// defaultSanitizeRules 回傳預設過濾規則
func defaultSanitizeRules() []SanitizeRule {
	return []SanitizeRule{
		// Internet Archive S3 授權標頭：LOW access:secret
		{regexp.MustCompile(`(?i)\bLOW\s+[^\s:]+:\S+`), "LOW ***:***"},

		// AWS 風格金鑰
		{regexp.MustCompile(`\b(AKIA|ASIA)[A-Z0-9]{16}\b`), "AKIA***"},
		{regexp.MustCompile(`(?i)(secret[_-]?(access[_-]?)?key)=\S+`), "$1=***"},
		{regexp.MustCompile(`(?i)(access[_-]?key)=\S+`), "$1=***"},
		{regexp.MustCompile(`(?i)x-amz-signature=[0-9a-f]+`), "X-Amz-Signature=***"},

		// 密碼與 token
		{regexp.MustCompile(`(?i)password=\S+`), "password=***"},
		{regexp.MustCompile(`(?i)token=\S+`), "token=***"},
		{regexp.MustCompile(`(?i)bearer\s+\S+`), "bearer ***"},
		{regexp.MustCompile(`(?i)api[_-]?key=\S+`), "api_key=***"},
	}
}

// Sanitize sanitizes a string by applying all patterns
func (s *Sanitizer) Sanitize(input string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := input
	for _, rule := range s.patterns {
		result = rule.Pattern.ReplaceAllString(result, rule.Replacement)
	}
	return result
}

// SanitizeArgs sanitizes logging arguments
func (s *Sanitizer) SanitizeArgs(args []any) []any {
	if len(args) == 0 {
		return args
	}

	result := make([]any, len(args))
	copy(result, args)

	for i := 0; i < len(result)-1; i += 2 {
		key, ok := result[i].(string)
		if !ok {
			continue
		}

		switch v := result[i+1].(type) {
		case string:
			if isSensitiveKey(key) {
				result[i+1] = maskValue(v)
			} else {
				result[i+1] = s.Sanitize(v)
			}
		case error:
			if isSensitiveKey(key) {
				result[i+1] = maskValue(v.Error())
			} else {
				result[i+1] = s.Sanitize(v.Error())
			}
		}
	}

	return result
}

var sensitiveKeys = []string{
	"password", "passwd",
	"token", "secret", "access_key", "accesskey", "api_key", "apikey",
	"credential", "authorization",
}

// isSensitiveKey 判斷鍵名是否為敏感鍵
func isSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)
	for _, sk := range sensitiveKeys {
		if strings.Contains(lowerKey, sk) {
			return true
		}
	}
	return false
}

// maskValue 遮蔽值（保留前後各1字元）
func maskValue(value string) string {
	if len(value) <= 2 {
		return "***"
	}
	if len(value) <= 8 {
		return fmt.Sprintf("%s***", string(value[0]))
	}
	return fmt.Sprintf("%s***%s", string(value[0]), string(value[len(value)-1]))
}

// AddRule 新增自訂過濾規則
func (s *Sanitizer) AddRule(pattern string, replacement string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}

	s.patterns = append(s.patterns, SanitizeRule{
		Pattern:     re,
		Replacement: replacement,
	})
	return nil
}
