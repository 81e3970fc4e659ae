package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbflow/internal/gateway"
	"kbflow/internal/model"
)

func TestVaultToReadyScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	vault, err := h.orch.CreateVault(ctx, "Legal Docs")
	require.NoError(t, err)
	assert.Equal(t, model.VaultNotIndexed, vault.Status)
	assert.Zero(t, vault.DocumentCount)

	h.kb.Do(func(kb *fakeKB) { kb.failUploads["scan.pdf"] = true })
	upload, err := h.orch.UploadDocuments(ctx, vault.ID, []UploadFile{
		file("contract.pdf", "terms and conditions"),
		file("scan.pdf", "unreadable"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, upload.SuccessCount)
	assert.Equal(t, 1, upload.FailedCount)
	assert.True(t, upload.NeedsIndexing)
	assert.Equal(t, IndexingReminder, upload.Reminder)
	assert.Zero(t, h.kb.Hits("POST /folders/:id/index"))

	_, err = h.orch.UploadDocuments(ctx, vault.ID, []UploadFile{file("appendix.pdf", "more")})
	require.NoError(t, err)

	_, err = h.orch.StartIndexing(ctx, vault.ID, model.IndexFast)
	require.NoError(t, err)
	got, _ := h.vaults.Get(vault.ID)
	assert.Equal(t, model.VaultIndexing, got.Status)

	h.kb.SetFolder(vault.ID, func(f *fakeFolder) {
		f.status = "ready"
		f.lastIndexed = "2025-03-01T10:00:00"
	})
	refreshed, err := h.orch.RefreshVault(ctx, vault.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VaultReady, refreshed.Status)
	assert.Equal(t, 2, refreshed.DocumentCount)
	assert.NotNil(t, refreshed.LastIndexed)

	listing, err := h.orch.ListDocuments(ctx, vault.ID)
	require.NoError(t, err)
	assert.Len(t, listing.Documents, 2)
	assert.Equal(t, int64(len("terms and conditions")+len("more")), listing.TotalBytes)
	assert.NotEmpty(t, listing.TotalSize)
}

func TestUploadWithNoSuccessNeedsNoIndexing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	vault, err := h.orch.CreateVault(ctx, "Scans")
	require.NoError(t, err)
	h.kb.Do(func(kb *fakeKB) { kb.failUploads["scan.pdf"] = true })

	upload, err := h.orch.UploadDocuments(ctx, vault.ID, []UploadFile{file("scan.pdf", "x")})
	require.NoError(t, err)
	assert.False(t, upload.NeedsIndexing)
	assert.Empty(t, upload.Reminder)
}

func TestCreateAgentRejectsUnknownVault(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.CreateAgent(context.Background(), validAgent("v1"))
	code, ok := ValidationCode(err)
	require.True(t, ok)
	assert.Equal(t, CodeUnknownVault, code)
	assert.Equal(t, 1, h.kb.Hits("GET /folders/list"))
	assert.Zero(t, h.kb.Hits("POST /agents/create"))
}

func TestCreateAgentResyncsVaultsCreatedElsewhere(t *testing.T) {
	h := newHarness(t)
	h.kb.Do(func(kb *fakeKB) {
		kb.folders["f-remote"] = &fakeFolder{id: "f-remote", name: "Remote", status: "ready"}
		kb.order = append(kb.order, "f-remote")
	})

	agent, err := h.orch.CreateAgent(context.Background(), validAgent("f-remote"))
	require.NoError(t, err)
	assert.Equal(t, []string{"f-remote"}, agent.VaultAccess)
}

func TestCreateAgentValidationBeforeVaultCheck(t *testing.T) {
	h := newHarness(t)
	in := validAgent("v1")
	in.Name = "ab"
	_, err := h.orch.CreateAgent(context.Background(), in)
	code, _ := ValidationCode(err)
	assert.Equal(t, CodeNameTooShort, code)
	assert.Zero(t, h.kb.TotalHits())
}

func TestUpdateAgentWithoutID(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.UpdateAgent(context.Background(), "", validAgent("f-1"))
	code, ok := StateCode(err)
	require.True(t, ok)
	assert.Equal(t, CodeNoAgentLoaded, code)
}

func TestChatAgainstUnindexedVault(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	vault, err := h.orch.CreateVault(ctx, "Fresh")
	require.NoError(t, err)
	agent, err := h.orch.CreateAgent(ctx, validAgent(vault.ID))
	require.NoError(t, err)

	reply, err := h.orch.SendMessage(ctx, agent.ID, "Anything in there?", "")
	require.NoError(t, err)
	assert.False(t, reply.Failed)
	assert.Empty(t, reply.Citations)

	turns := h.orch.Transcript(agent.ID).Turns
	require.Len(t, turns, 1)
	require.NotNil(t, turns[0].Assistant)
	assert.Equal(t, model.RoleAssistant, turns[0].Assistant.Role)
}

func TestChatStrictGateRequiresReadyVault(t *testing.T) {
	h := newHarness(t, withOptions(Options{RequireReadyVault: true}))
	ctx := context.Background()
	vault, err := h.orch.CreateVault(ctx, "Fresh")
	require.NoError(t, err)
	agent, err := h.orch.CreateAgent(ctx, validAgent(vault.ID))
	require.NoError(t, err)

	_, err = h.orch.SendMessage(ctx, agent.ID, "hello", "")
	code, ok := StateCode(err)
	require.True(t, ok)
	assert.Equal(t, CodeNoReadyVault, code)
	assert.Zero(t, h.kb.Hits("POST /chat/:agent/message"))

	h.kb.SetFolder(vault.ID, func(f *fakeFolder) { f.status = "ready" })
	_, err = h.orch.RefreshVault(ctx, vault.ID)
	require.NoError(t, err)
	_, err = h.orch.SendMessage(ctx, agent.ID, "hello", "")
	require.NoError(t, err)
}

func TestChatRequiresVaultAccess(t *testing.T) {
	h := newHarness(t)
	h.kb.Do(func(kb *fakeKB) {
		kb.agents["a-bare"] = agentPayload{AgentID: "a-bare", Name: "Bare"}
		kb.agentOrder = append(kb.agentOrder, "a-bare")
	})

	_, err := h.orch.SendMessage(context.Background(), "a-bare", "hello", "")
	code, ok := StateCode(err)
	require.True(t, ok)
	assert.Equal(t, CodeAgentWithoutVaults, code)
}

func TestChatUnknownAgent(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.SendMessage(context.Background(), "a-404", "hello", "")
	assert.True(t, IsNotFound(err))
	assert.Zero(t, h.kb.Hits("POST /chat/:agent/message"))
}

func TestDescribeAgent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	vault, err := h.orch.CreateVault(ctx, "Legal Docs")
	require.NoError(t, err)
	agent, err := h.orch.CreateAgent(ctx, validAgent(vault.ID))
	require.NoError(t, err)
	h.kb.Do(func(kb *fakeKB) {
		a := kb.agents[agent.ID]
		a.FolderAccess = append(a.FolderAccess, "0123456789abcdef")
		kb.agents[agent.ID] = a
	})

	profile, err := h.orch.DescribeAgent(ctx, agent.ID)
	require.NoError(t, err)
	require.Len(t, profile.Vaults, 2)
	assert.Equal(t, "Legal Docs", profile.Vaults[0].Name)
	assert.True(t, profile.Vaults[0].Known)
	assert.Equal(t, "01234567", profile.Vaults[1].Name)
	assert.False(t, profile.Vaults[1].Known)
}

func TestDeleteAgentResetsConversation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	vault, err := h.orch.CreateVault(ctx, "Legal Docs")
	require.NoError(t, err)
	agent, err := h.orch.CreateAgent(ctx, validAgent(vault.ID))
	require.NoError(t, err)
	_, err = h.orch.SendMessage(ctx, agent.ID, "hello", "")
	require.NoError(t, err)

	require.NoError(t, h.orch.DeleteAgent(ctx, agent.ID))
	assert.Empty(t, h.orch.Transcript(agent.ID).Turns)
}

func TestPing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.orch.CreateVault(ctx, "Legal Docs")
	require.NoError(t, err)

	result, err := h.orch.Ping(ctx)
	require.NoError(t, err)
	assert.True(t, result.Reachable)
	assert.Equal(t, 1, result.VaultCount)
}

func TestPingUnreachable(t *testing.T) {
	gw := gateway.NewClient(gateway.Config{BaseURL: "http://127.0.0.1:1"}, nil)
	orch := NewOrchestrator(gw, NewVaultRegistry(gw, nil, nil), NewAgentRegistry(gw, nil, nil), NewChatController(gw, nil, nil), nil, Options{})

	result, err := orch.Ping(context.Background())
	require.Error(t, err)
	assert.False(t, result.Reachable)
	gwErr, ok := gateway.AsError(err)
	require.True(t, ok)
	assert.Equal(t, gateway.KindConnection, gwErr.Kind)
}
