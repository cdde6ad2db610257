// 只处理a标签的href属性，按文档顺序返回，不做去重
package analyzer

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"

	"github.com/andrewyi/attachcrawler/src/entity"
	"github.com/andrewyi/attachcrawler/src/util"
)

type SimpleAnalyzer struct {
	base      *url.URL
	nextClass string
	logger    *log.Logger
}

func NewSimpleAnalyzer(baseURL string, nextClass string, logger *log.Logger) (*SimpleAnalyzer, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if nextClass == "" {
		nextClass = DefaultNextClass
	}
	return &SimpleAnalyzer{
		base:      base,
		nextClass: nextClass,
		logger:    logger,
	}, nil
}

func (a *SimpleAnalyzer) ExtractLinks(pageBody string, predicate Predicate) ([]entity.Link, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageBody))
	if err != nil {
		return nil, err
	}

	var links []entity.Link
	doc.Find("a[href]").Each(func(index int, element *goquery.Selection) {
		href, _ := element.Attr("href")
		if strings.TrimSpace(href) == "" {
			return
		}
		link, ok := predicate.Accept(href, element)
		if !ok {
			return
		}
		abs, err := util.ResolveURL(a.base, link.URL)
		if err != nil {
			a.logger.WithError(err).WithField("href", href).Warn("fail to resolve href")
			return
		}
		link.URL = abs
		links = append(links, link)
	})
	return links, nil
}

// 找到第一个带next class的a标签，不存在说明已经是最后一页
func (a *SimpleAnalyzer) ExtractNextPage(pageBody string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageBody))
	if err != nil {
		return "", false
	}

	href, ok := doc.Find("a." + a.nextClass).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return "", false
	}
	next, err := util.ResolveURL(a.base, href)
	if err != nil {
		a.logger.WithError(err).WithField("href", href).Warn("fail to resolve next page")
		return "", false
	}
	return next, true
}
