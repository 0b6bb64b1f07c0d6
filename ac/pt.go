package ac

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
)

// PT is the REST interface of the panel server.
// It is used to resolve block state after a change event and to read/write
// richer server state on behalf of an AC.

const DefaultPtPort = 5823

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

// structured JSON data returned by PT
type PtData = map[string]any

type PtClientSettings struct {
	// scheme://host:port, without a trailing slash
	BaseUrl    string
	HttpClient *http.Client
}

func DefaultPtClientSettings(server string) *PtClientSettings {
	return &PtClientSettings{
		BaseUrl:    fmt.Sprintf("http://%s", net.JoinHostPort(server, fmt.Sprintf("%d", DefaultPtPort))),
		HttpClient: defaultClient(),
	}
}

type PtClient struct {
	settings *PtClientSettings
}

func NewPtClientWithDefaults(server string) *PtClient {
	return NewPtClient(DefaultPtClientSettings(server))
}

func NewPtClient(settings *PtClientSettings) *PtClient {
	if settings.HttpClient == nil {
		settings.HttpClient = defaultClient()
	}
	return &PtClient{
		settings: settings,
	}
}

func (self *PtClient) BaseUrl() string {
	return self.settings.BaseUrl
}

func (self *PtClient) Get(ctx context.Context, path string) (PtData, error) {
	glog.V(2).Infof("[pt]GET %s\n", path)
	return ptRequest(ctx, self.settings.HttpClient, http.MethodGet, self.url(path), PtData{}, "", "", PtData{})
}

func (self *PtClient) Put(ctx context.Context, path string, body PtData, user string, password string) (PtData, error) {
	glog.V(2).Infof("[pt]PUT %s\n", path)
	return ptRequest(ctx, self.settings.HttpClient, http.MethodPut, self.url(path), body, user, password, PtData{})
}

func (self *PtClient) url(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return self.settings.BaseUrl + path
}

func basicAuth(user string, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%s:%s", user, password)))
}

// the Basic authorization header is always sent, with empty credentials when none are given
func ptRequest[R any](
	ctx context.Context,
	client *http.Client,
	method string,
	url string,
	args any,
	user string,
	password string,
	result R,
) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		return empty, err
	}

	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Authorization", fmt.Sprintf("Basic %s", basicAuth(user, password)))

	r, err := client.Do(req)
	if err != nil {
		var empty R
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		if errorMessage == "" {
			errorMessage = r.Status
		}
		var empty R
		return empty, fmt.Errorf("PT %s %s: %w", method, url, errors.New(errorMessage))
	}

	if err != nil {
		var empty R
		return empty, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		return empty, err
	}

	return result, nil
}

// reads `key` from `data` as an object
func PtObject(data PtData, key string) (PtData, error) {
	value, ok := data[key]
	if !ok {
		return nil, fmt.Errorf("PT response missing %q.", key)
	}
	object, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("PT response %q is %T, not an object.", key, value)
	}
	return object, nil
}

// reads `key` from `data` as a list of objects
func PtList(data PtData, key string) ([]PtData, error) {
	value, ok := data[key]
	if !ok {
		return nil, fmt.Errorf("PT response missing %q.", key)
	}
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("PT response %q is %T, not a list.", key, value)
	}
	objects := make([]PtData, 0, len(items))
	for i, item := range items {
		object, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("PT response %q[%d] is %T, not an object.", key, i, item)
		}
		objects = append(objects, object)
	}
	return objects, nil
}

// reads the "id" of a PT object as a string. PT ids are numbers.
func PtId(data PtData) string {
	switch v := data["id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
