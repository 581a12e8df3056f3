package lambdaboot

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/ai-deck-builder/internal/auth"
)

type fakeSSM struct {
	values map[string]string
	last   *ssm.GetParameterInput
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.last = in
	v, ok := f.values[aws.ToString(in.Name)]
	if !ok {
		return nil, errors.New("ParameterNotFound")
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: aws.String(v)}}, nil
}

func TestFetchParameter(t *testing.T) {
	f := &fakeSSM{values: map[string]string{"/a": "secret"}}

	v, err := FetchParameter(context.Background(), f, "/a", true)
	require.NoError(t, err)
	assert.Equal(t, "secret", v)
	assert.True(t, aws.ToBool(f.last.WithDecryption))

	_, err = FetchParameter(context.Background(), f, "/missing", false)
	assert.Error(t, err)
}

func TestLoadGeminiKey(t *testing.T) {
	t.Setenv(auth.KeyEnv, "")
	t.Setenv(APIKeyParamEnv, "/custom/key")
	f := &fakeSSM{values: map[string]string{"/custom/key": "from-ssm"}}

	LoadGeminiKey(f)
	assert.Equal(t, "from-ssm", os.Getenv(auth.KeyEnv))

	// Already set: SSM is not consulted.
	f.last = nil
	LoadGeminiKey(f)
	assert.Nil(t, f.last)
}

func TestAPIKeyParamDefault(t *testing.T) {
	t.Setenv(APIKeyParamEnv, "")
	assert.Equal(t, DefaultAPIKeyParam, APIKeyParam())
}

func TestS3ClientsPrefixes(t *testing.T) {
	c := &S3Clients{Bucket: "b"}
	assert.Equal(t, "decks/images", c.Offloader("decks").Prefix)
	assert.Equal(t, "bundles", c.Uploader("").Prefix)
	assert.Equal(t, "b", c.Uploader("x").Bucket)
	assert.Nil(t, InitS3(aws.Config{}, ""))
}
