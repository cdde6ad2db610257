package util

import (
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "CRAWLER"

// 读取配置文件，环境变量（CRAWLER_SESSION_SEED_URL 形式）优先于文件
// filePath为空时只读取环境变量，out中已有的值作为默认值
func ReadConfig(filePath string, out interface{}) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // for nested structure
	v.AutomaticEnv()
	bindEnvs(v, reflect.TypeOf(out), "")

	if filePath != "" {
		v.SetConfigFile(filePath)
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}

	if err := v.Unmarshal(out); err != nil {
		return err
	}

	return nil
}

// viper只会从环境变量中读取已知的key，这里把结构体中所有mapstructure key都注册一遍
func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if field.Type.Kind() == reflect.Struct {
			bindEnvs(v, field.Type, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

var (
	disallowedChars = regexp.MustCompile(`[^\w\-.]`)
	underscoreRuns  = regexp.MustCompile(`[_\s]+`)
)

// 将远端给出的名字转换为安全的本地文件名
// 只保留字母数字、下划线、连字符和点，连续的非法字符或空白合并为一个下划线，去掉首尾下划线
func SanitizeFilename(name string) string {
	name = disallowedChars.ReplaceAllString(name, "_")
	name = underscoreRuns.ReplaceAllString(name, "_")
	return strings.Trim(name, "_")
}

// 相对链接基于base解析为绝对链接
func ResolveURL(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	if base == nil {
		if !ref.IsAbs() {
			return "", fmt.Errorf("relative url %q without base", href)
		}
		return ref.String(), nil
	}
	return base.ResolveReference(ref).String(), nil
}

// 取url的scheme+host部分，作为默认的base url
func BaseOf(u string) (string, error) {
	oURL, err := url.Parse(u)
	if err != nil {
		return "", err
	}
	if oURL.Scheme == "" || oURL.Host == "" {
		return "", fmt.Errorf("url %q has no scheme or host", u)
	}
	return oURL.Scheme + "://" + oURL.Host, nil
}

// host中可能残留有:port信息，需要进一步移除
func GetDomain(u string) (string, error) {
	oURL, err := url.Parse(u)
	if err != nil {
		return "", err
	}
	return strings.Split(oURL.Host, ":")[0], nil
}
