/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package api

// Client side API client calls

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
)

// ApiClient talks JSON over HTTP(S) to the zsignd API. AuthMethod
// selects the authentication header: "X-API-Key", "Authorization", or
// "" for none.
type ApiClient struct {
	Name       string
	BaseUrl    string
	apiKey     string
	AuthMethod string
	Client     *http.Client
	Verbose    bool
	Debug      bool
}

// NewClient sets up an API client. rootcafile may name a PEM bundle to
// pin the server certificate, or "insecure" to skip verification (for
// the usual localhost deployment).
func NewClient(name, baseurl, apikey, authmethod, rootcafile string, verbose, debug bool) *ApiClient {
	api := ApiClient{
		Name:       name,
		BaseUrl:    baseurl,
		apiKey:     apikey,
		AuthMethod: authmethod,
		Verbose:    verbose,
		Debug:      debug,
	}

	tlsconfig := &tls.Config{}
	if rootcafile == "insecure" {
		tlsconfig.InsecureSkipVerify = true
	} else if rootcafile != "" {
		rootCAPool := x509.NewCertPool()
		rootCA, err := os.ReadFile(rootcafile)
		if err != nil {
			log.Fatalf("reading cert failed : %v", err)
		}
		if debug {
			log.Printf("NewClient: Creating '%s' API client based on root CAs in file '%s'\n",
				name, rootcafile)
		}
		rootCAPool.AppendCertsFromPEM(rootCA)
		tlsconfig.RootCAs = rootCAPool
	}
	api.Client = &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: tlsconfig,
		},
	}

	if debug {
		log.Printf("Setting up %s API client:\n", name)
		log.Printf("* baseurl is: %s \n* authmethod is: %s \n", api.BaseUrl, api.AuthMethod)
	}

	return &api
}

func (api *ApiClient) requestHelper(req *http.Request) (int, []byte, error) {
	req.Header.Add("Content-Type", "application/json")

	switch api.AuthMethod {
	case "":
		// do not add any authentication header at all
	case "X-API-Key":
		req.Header.Add("X-API-Key", api.apiKey)
	case "Authorization":
		req.Header.Add("Authorization", fmt.Sprintf("token %s", api.apiKey))
	default:
		return 501, nil, fmt.Errorf("unknown auth method: %s", api.AuthMethod)
	}

	if api.Debug {
		log.Printf("api request: %s %s\n", req.Method, req.URL)
	}

	resp, err := api.Client.Do(req)
	if err != nil {
		return 501, nil, err
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	return resp.StatusCode, buf, err
}

// RequestNG marshals data, sends it to endpoint and returns the status
// code and raw response body. With dieOnError the process terminates on
// transport failure, the behaviour CLI one-shot commands want.
func (api *ApiClient) RequestNG(method, endpoint string, data interface{}, dieOnError bool) (int, []byte, error) {
	if api == nil {
		return 501, nil, fmt.Errorf("api client is nil")
	}

	bytebuf := new(bytes.Buffer)
	if err := json.NewEncoder(bytebuf).Encode(data); err != nil {
		if dieOnError {
			log.Fatalf("api.RequestNG: Error from json.NewEncoder: %v", err)
		}
		return 501, nil, err
	}

	req, err := http.NewRequest(method, api.BaseUrl+endpoint, bytebuf)
	if err != nil {
		return 501, nil, err
	}

	status, buf, err := api.requestHelper(req)
	if err != nil && dieOnError {
		log.Fatalf("api.RequestNG: %s %s error: %v", method, endpoint, err)
	}
	return status, buf, err
}
