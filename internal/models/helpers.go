package models

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"
)

// ValidateURL 验证URL
func ValidateURL(urlStr string) error {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("无效的URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL必须是HTTP或HTTPS协议")
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL必须包含主机名")
	}
	return nil
}

// NormalizeDomain 规范化邮箱域名
// 去除空白、开头的@和结尾的点,保留调用方的大小写
func NormalizeDomain(domain string) string {
	domain = strings.TrimSpace(domain)
	domain = strings.TrimPrefix(domain, "@")
	return strings.TrimSuffix(domain, ".")
}

// ValidateDomain 验证邮箱域名
// 域名必须位于公共后缀之下(如 example.com, example.co.uk),不能是 com 这样的后缀本身
func ValidateDomain(domain string) error {
	domain = NormalizeDomain(domain)
	if domain == "" {
		return fmt.Errorf("域名不能为空")
	}
	if strings.ContainsAny(domain, " /:@") {
		return fmt.Errorf("域名包含非法字符: %s", domain)
	}

	lower := strings.ToLower(domain)
	if _, err := publicsuffix.EffectiveTLDPlusOne(lower); err != nil {
		return fmt.Errorf("无效的域名 %s: %w", domain, err)
	}
	return nil
}

// generateID 生成唯一ID
func generateID() string {
	return uuid.New().String()
}
