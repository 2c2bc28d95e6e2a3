package fakes

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// FakeSSMClient is an in-memory Parameter Store supporting GetParametersByPath
type FakeSSMClient struct {
	mu sync.Mutex

	// Parameters maps full parameter names to values
	Parameters map[string]string
	// PageSize limits parameters per page; zero means 10 like the real API
	PageSize int
	// Err is returned by every call when set
	Err error
	// Calls counts GetParametersByPath invocations
	Calls int
}

// NewFakeSSMClient creates an empty fake
func NewFakeSSMClient() *FakeSSMClient {
	return &FakeSSMClient{Parameters: make(map[string]string)}
}

// AddParameter stores a parameter
func (f *FakeSSMClient) AddParameter(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Parameters[name] = value
}

// GetParametersByPath implements ssm.GetParametersByPathAPIClient
func (f *FakeSSMClient) GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++

	if f.Err != nil {
		return nil, f.Err
	}

	prefix := strings.TrimSuffix(aws.ToString(params.Path), "/") + "/"
	recursive := aws.ToBool(params.Recursive)

	var names []string
	for name := range f.Parameters {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if !recursive && strings.Contains(strings.TrimPrefix(name, prefix), "/") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	start := 0
	if params.NextToken != nil {
		start, _ = strconv.Atoi(*params.NextToken)
	}
	size := f.PageSize
	if size <= 0 {
		size = 10
	}
	end := start + size
	if end > len(names) {
		end = len(names)
	}

	out := &ssm.GetParametersByPathOutput{}
	for _, name := range names[start:end] {
		out.Parameters = append(out.Parameters, ssmtypes.Parameter{
			Name:  aws.String(name),
			Value: aws.String(f.Parameters[name]),
			Type:  ssmtypes.ParameterTypeSecureString,
		})
	}
	if end < len(names) {
		out.NextToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

// FakeSecretsManagerClient is an in-memory Secrets Manager
type FakeSecretsManagerClient struct {
	mu sync.Mutex

	// Secrets maps secret IDs to secret strings
	Secrets map[string]string
	// Binary maps secret IDs to binary secrets
	Binary map[string][]byte
	// Errors maps secret IDs to errors to return
	Errors map[string]error
}

// NewFakeSecretsManagerClient creates an empty fake
func NewFakeSecretsManagerClient() *FakeSecretsManagerClient {
	return &FakeSecretsManagerClient{
		Secrets: make(map[string]string),
		Binary:  make(map[string][]byte),
		Errors:  make(map[string]error),
	}
}

// AddSecretString stores a string secret
func (f *FakeSecretsManagerClient) AddSecretString(id, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Secrets[id] = value
}

// GetSecretValue implements the Secrets Manager read call
func (f *FakeSecretsManagerClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := aws.ToString(params.SecretId)
	if err, ok := f.Errors[id]; ok {
		return nil, err
	}
	if v, ok := f.Secrets[id]; ok {
		return &secretsmanager.GetSecretValueOutput{Name: aws.String(id), SecretString: aws.String(v)}, nil
	}
	if b, ok := f.Binary[id]; ok {
		return &secretsmanager.GetSecretValueOutput{Name: aws.String(id), SecretBinary: b}, nil
	}
	return nil, &smtypes.ResourceNotFoundException{
		Message: aws.String("Secrets Manager can't find the specified secret."),
	}
}
