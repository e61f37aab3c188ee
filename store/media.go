package store

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// EncodeMediaURLs renders an ordered media list for the posts media_urls
// column.
func EncodeMediaURLs(urls []string) (string, error) {
	if urls == nil {
		urls = []string{}
	}
	raw, err := json.Marshal(urls)
	if err != nil {
		return "", errors.Wrap(err, "failure encoding media urls")
	}
	return string(raw), nil
}

func DecodeMediaURLs(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var urls []string
	err := json.Unmarshal([]byte(raw), &urls)
	if err != nil {
		return nil, errors.Wrap(err, "failure decoding media urls")
	}
	return urls, nil
}
