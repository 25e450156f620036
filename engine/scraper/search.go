package scraper

import (
	"net/url"
	"strconv"
)

// SearchBaseURL is the public job search endpoint crawled for listings.
const SearchBaseURL = "https://www.linkedin.com/jobs/search"

// resultsPerPage is the offset step between search result pages.
const resultsPerPage = 25

// SearchURLs returns the result page URLs to visit for keyword, one per page.
func SearchURLs(keyword, location string, pages int) []string {
	if pages <= 0 {
		pages = 1
	}
	urls := make([]string, 0, pages)
	for i := 0; i < pages; i++ {
		q := url.Values{}
		q.Set("keywords", keyword)
		q.Set("location", location)
		q.Set("start", strconv.Itoa(i*resultsPerPage))
		urls = append(urls, SearchBaseURL+"?"+q.Encode())
	}
	return urls
}
