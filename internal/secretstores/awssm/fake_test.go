package awssm

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// fakeClient is an in-memory SecretsManagerClientAPI with the stage label
// behaviour of the real service.
type fakeClient struct {
	mu sync.Mutex

	// Secrets maps secret names to their data
	Secrets map[string]*secretData
	// Errors maps operation names to an error returned on the next call
	Errors map[string]error
	// Calls records operation names in call order
	Calls []string

	// LastPut and LastUpdate record the most recent write inputs
	LastPut      *secretsmanager.PutSecretValueInput
	LastUpdate   *secretsmanager.UpdateSecretVersionStageInput
	LastRandom   *secretsmanager.GetRandomPasswordInput
	LastRotation *secretsmanager.RotateSecretInput
}

type secretData struct {
	RotationEnabled bool
	Values          map[string]string
	Stages          map[string][]string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		Secrets: make(map[string]*secretData),
		Errors:  make(map[string]error),
	}
}

// AddSecretString adds a secret whose only version is AWSCURRENT.
func (f *fakeClient) AddSecretString(name, versionID, value string, rotationEnabled bool) {
	f.Secrets[name] = &secretData{
		RotationEnabled: rotationEnabled,
		Values:          map[string]string{versionID: value},
		Stages:          map[string][]string{versionID: {"AWSCURRENT"}},
	}
}

func (f *fakeClient) begin(op, secretID string) (*secretData, error) {
	f.Calls = append(f.Calls, op)
	if err, ok := f.Errors[op]; ok {
		delete(f.Errors, op)
		return nil, err
	}
	if secretID == "" {
		return nil, nil
	}
	data, ok := f.Secrets[secretID]
	if !ok {
		return nil, &types.ResourceNotFoundException{
			Message: aws.String(fmt.Sprintf("Secrets Manager can't find the specified secret: %s", secretID)),
		}
	}
	return data, nil
}

func (d *secretData) holder(stage string) string {
	ids := make([]string, 0, len(d.Stages))
	for id := range d.Stages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		for _, s := range d.Stages[id] {
			if s == stage {
				return id
			}
		}
	}
	return ""
}

func (d *secretData) detach(versionID, stage string) {
	var kept []string
	for _, s := range d.Stages[versionID] {
		if s != stage {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(d.Stages, versionID)
		return
	}
	d.Stages[versionID] = kept
}

func (d *secretData) attach(versionID, stage string) {
	if previous := d.holder(stage); previous != "" && previous != versionID {
		d.detach(previous, stage)
		if stage == "AWSCURRENT" {
			d.attach(previous, "AWSPREVIOUS")
		}
	}
	for _, s := range d.Stages[versionID] {
		if s == stage {
			return
		}
	}
	d.Stages[versionID] = append(d.Stages[versionID], stage)
}

func (f *fakeClient) DescribeSecret(_ context.Context, params *secretsmanager.DescribeSecretInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	data, err := f.begin("DescribeSecret", name)
	if err != nil {
		return nil, err
	}

	stages := make(map[string][]string, len(data.Stages))
	for id, s := range data.Stages {
		stages[id] = append([]string(nil), s...)
	}
	return &secretsmanager.DescribeSecretOutput{
		ARN:                aws.String("arn:aws:secretsmanager:us-east-1:123456789012:secret:" + name),
		Name:               aws.String(name),
		RotationEnabled:    aws.Bool(data.RotationEnabled),
		VersionIdsToStages: stages,
	}, nil
}

func (f *fakeClient) GetSecretValue(_ context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	data, err := f.begin("GetSecretValue", name)
	if err != nil {
		return nil, err
	}

	versionID := aws.ToString(params.VersionId)
	stage := aws.ToString(params.VersionStage)
	if versionID == "" {
		if stage == "" {
			stage = "AWSCURRENT"
		}
		versionID = data.holder(stage)
	}
	value, ok := data.Values[versionID]
	if !ok {
		return nil, &types.ResourceNotFoundException{
			Message: aws.String("Secrets Manager can't find the specified secret value for VersionId: " + versionID),
		}
	}
	return &secretsmanager.GetSecretValueOutput{
		Name:          aws.String(name),
		SecretString:  aws.String(value),
		VersionId:     aws.String(versionID),
		VersionStages: data.Stages[versionID],
	}, nil
}

func (f *fakeClient) PutSecretValue(_ context.Context, params *secretsmanager.PutSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	data, err := f.begin("PutSecretValue", name)
	if err != nil {
		return nil, err
	}
	f.LastPut = params

	token := aws.ToString(params.ClientRequestToken)
	if existing, ok := data.Values[token]; ok && existing != aws.ToString(params.SecretString) {
		return nil, &types.ResourceExistsException{Message: aws.String("version already exists with different value")}
	}
	data.Values[token] = aws.ToString(params.SecretString)

	stages := params.VersionStages
	if len(stages) == 0 {
		stages = []string{"AWSCURRENT"}
	}
	for _, stage := range stages {
		data.attach(token, stage)
	}
	return &secretsmanager.PutSecretValueOutput{Name: aws.String(name), VersionId: aws.String(token)}, nil
}

func (f *fakeClient) UpdateSecretVersionStage(_ context.Context, params *secretsmanager.UpdateSecretVersionStageInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.UpdateSecretVersionStageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	data, err := f.begin("UpdateSecretVersionStage", name)
	if err != nil {
		return nil, err
	}
	f.LastUpdate = params

	stage := aws.ToString(params.VersionStage)
	moveTo := aws.ToString(params.MoveToVersionId)
	removeFrom := aws.ToString(params.RemoveFromVersionId)
	if holder := data.holder(stage); holder != "" && holder != moveTo && holder != removeFrom {
		return nil, &types.InvalidParameterException{Message: aws.String(stage + " is attached to " + holder)}
	}
	if removeFrom != "" {
		data.detach(removeFrom, stage)
	}
	if moveTo != "" {
		data.attach(moveTo, stage)
		if stage == "AWSCURRENT" && removeFrom != "" && removeFrom != moveTo {
			data.attach(removeFrom, "AWSPREVIOUS")
		}
	}
	return &secretsmanager.UpdateSecretVersionStageOutput{Name: aws.String(name)}, nil
}

func (f *fakeClient) GetRandomPassword(_ context.Context, params *secretsmanager.GetRandomPasswordInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetRandomPasswordOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.begin("GetRandomPassword", ""); err != nil {
		return nil, err
	}
	f.LastRandom = params

	length := int(aws.ToInt64(params.PasswordLength))
	if length == 0 {
		length = 32
	}
	password := make([]byte, length)
	for i := range password {
		password[i] = 'a' + byte(i%26)
	}
	return &secretsmanager.GetRandomPasswordOutput{RandomPassword: aws.String(string(password))}, nil
}

func (f *fakeClient) RotateSecret(_ context.Context, params *secretsmanager.RotateSecretInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.RotateSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	data, err := f.begin("RotateSecret", name)
	if err != nil {
		return nil, err
	}
	f.LastRotation = params

	if !data.RotationEnabled && params.RotationLambdaARN == nil {
		return nil, &types.InvalidRequestException{Message: aws.String("rotation is not configured")}
	}
	token := aws.ToString(params.ClientRequestToken)
	data.attach(token, "AWSPENDING")
	return &secretsmanager.RotateSecretOutput{Name: aws.String(name), VersionId: aws.String(token)}, nil
}
