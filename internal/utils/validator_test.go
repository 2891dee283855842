package utils

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/RecoveryAshes/EmailSpy/internal/models"
)

func TestHeaderValidator_ValidateName(t *testing.T) {
	validator := NewHeaderValidator()

	tests := []struct {
		name       string
		headerName string
		wantErr    bool
	}{
		{"字母", "Referer", false},
		{"数字", "X-Request-ID-123", false},
		{"单字符", "X", false},
		{"空格", "User Agent", true},
		{"下划线", "User_Agent", true},
		{"特殊字符", "User@Agent", true},
		{"空字符串", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateName(tt.headerName)
			if (err != nil) != tt.wantErr {
				t.Errorf("期望错误=%v, 实际错误=%v", tt.wantErr, err)
			}
		})
	}
}

func TestHeaderValidator_ValidateValue(t *testing.T) {
	validator := NewHeaderValidator()

	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"ASCII", "Mozilla/5.0", false},
		{"空值", "", false},
		{"引号", `value "with" quotes`, false},
		{"最大长度", strings.Repeat("a", MaxHeaderValueLength), false},
		{"超长", strings.Repeat("a", MaxHeaderValueLength+1), true},
		{"控制字符", "value\x00with\x01null", true},
		{"中文", "测试中文", true},
		{"表情", "test 😀 emoji", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateValue("X-Test", tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("期望错误=%v, 实际错误=%v", tt.wantErr, err)
			}
		})
	}
}

func TestHeaderValidator_ValidateHeader(t *testing.T) {
	validator := NewHeaderValidator()

	tests := []struct {
		name    string
		header  string
		value   string
		wantErr bool
	}{
		{"合法头部", "Accept-Language", "en-US", false},
		{"Host", "Host", "duckduckgo.com", true},
		{"Content-Length", "Content-Length", "123", true},
		{"大小写混合的Host", "HoSt", "duckduckgo.com", true},
		{"非法名称", "User Agent", "value", true},
		{"非法值", "User-Agent", "value\x00bad", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateHeader(tt.header, tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("期望错误=%v, 实际错误=%v", tt.wantErr, err)
			}
		})
	}

	t.Run("错误类型", func(t *testing.T) {
		err := validator.ValidateHeader("Connection", "close")
		var vErr *models.ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("期望 ValidationError, 得到 %T", err)
		}
		if vErr.HeaderName != "Connection" || vErr.Suggestion == "" {
			t.Errorf("ValidationError 内容不完整: %+v", vErr)
		}
	})
}

func TestHeaderValidator_Validate(t *testing.T) {
	validator := NewHeaderValidator()

	ok := http.Header{
		"User-Agent": []string{"Mozilla/5.0"},
		"Referer":    []string{"https://duckduckgo.com/"},
	}
	if err := validator.Validate(ok); err != nil {
		t.Errorf("期望无错误, 得到 %v", err)
	}

	forbidden := http.Header{"Transfer-Encoding": []string{"chunked"}}
	if err := validator.Validate(forbidden); err == nil {
		t.Error("禁止头部应该返回错误")
	}

	badValue := http.Header{"X-Bad": []string{"ok", "bad\x7f"}}
	if err := validator.Validate(badValue); err == nil {
		t.Error("任一值非法都应该返回错误")
	}
}

func TestHeaderRedactor(t *testing.T) {
	redactor := NewHeaderRedactor()

	t.Run("敏感头部", func(t *testing.T) {
		tests := []struct {
			name  string
			value string
			want  string
		}{
			{"Authorization", "Bearer token123", "Bearer ***"},
			{"Authorization", "Basic dXNlcjpwYXNz", "Basic ***"},
			{"Cookie", "session=abcdef123456", "sess***3456"},
			{"X-Api-Key", "key12345678", "key1***5678"},
			{"X-Secret", "short", "***"},
			{"X-Token", "", "***"},
		}
		for _, tt := range tests {
			if !redactor.IsSensitiveHeader(tt.name) {
				t.Errorf("%s 应该被识别为敏感头部", tt.name)
			}
			if got := redactor.RedactHeaderValue(tt.name, tt.value); got != tt.want {
				t.Errorf("RedactHeaderValue(%s, %q) = %q, 期望 %q", tt.name, tt.value, got, tt.want)
			}
		}
	})

	t.Run("普通头部保持原样", func(t *testing.T) {
		headers := http.Header{}
		headers.Set("User-Agent", "Mozilla/5.0")
		headers.Set("Accept", "*/*")

		redacted := redactor.Redact(headers)
		if redacted["User-Agent"] != "Mozilla/5.0" || redacted["Accept"] != "*/*" {
			t.Errorf("普通头部不应被脱敏: %v", redacted)
		}
	})

	t.Run("字符串输出按名称排序", func(t *testing.T) {
		headers := http.Header{}
		headers.Set("X-B", "2")
		headers.Set("Authorization", "Bearer abc")
		headers.Set("Accept", "*/*")

		got := redactor.RedactToString(headers)
		want := "Accept: */*, Authorization: Bearer ***, X-B: 2"
		if got != want {
			t.Errorf("RedactToString = %q, 期望 %q", got, want)
		}
	})
}
