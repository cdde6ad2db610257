package analyzer

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/andrewyi/attachcrawler/src/entity"
)

// 判断一个a标签是否是需要的链接
// 返回的Link.URL可以是相对地址，由Extractor统一补全
type Predicate interface {
	Accept(href string, element *goquery.Selection) (entity.Link, bool)
}

type Analyzer interface {
	ExtractLinks(pageBody string, predicate Predicate) ([]entity.Link, error)
	ExtractNextPage(pageBody string) (string, bool)
}
