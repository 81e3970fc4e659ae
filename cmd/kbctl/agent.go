package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"kbflow/internal/app"
	"kbflow/internal/model"
)

var agentFlags struct {
	name         string
	instructions string
	vaults       []string
	retrieval    string
	topK         int
	llmModel     string
	temperature  float64
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Configure chat agents scoped to vaults",
}

var agentCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, err := orch.CreateAgent(cmd.Context(), agentInput())
		if err != nil {
			return err
		}
		return printAgent(cmd, agent)
	},
}

var agentUpdateCmd = &cobra.Command{
	Use:   "update [agent-id]",
	Short: "Replace an agent's configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, err := orch.UpdateAgent(cmd.Context(), args[0], agentInput())
		if err != nil {
			return err
		}
		return printAgent(cmd, agent)
	},
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		agents, err := orch.ListAgents(cmd.Context())
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), agents)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tMODEL\tRETRIEVAL\tVAULTS")
		for _, a := range agents {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", a.ID, a.Name, a.LLMModel, a.RetrievalMethod, len(a.VaultAccess))
		}
		return tw.Flush()
	},
}

var agentShowCmd = &cobra.Command{
	Use:   "show [agent-id]",
	Short: "Show an agent and the vaults it can read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, err := orch.DescribeAgent(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), profile)
		}
		a := profile.Agent
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s (%s)\n", a.Name, a.ID)
		fmt.Fprintf(out, "  model: %s  temperature: %.1f  retrieval: %s  top_k: %d\n",
			a.LLMModel, a.Temperature, a.RetrievalMethod, a.TopK)
		fmt.Fprintf(out, "  instructions: %s\n", a.RoleInstructions)
		for _, v := range profile.Vaults {
			status := string(v.Status)
			if !v.Known {
				status = "unknown"
			}
			fmt.Fprintf(out, "  vault: %s [%s]\n", v.Name, status)
		}
		return nil
	},
}

var agentDeleteCmd = &cobra.Command{
	Use:   "delete [agent-id]",
	Short: "Delete an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := orch.DeleteAgent(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted agent %s\n", args[0])
		return nil
	},
}

func agentInput() app.AgentInput {
	return app.AgentInput{
		Name:             agentFlags.name,
		RoleInstructions: agentFlags.instructions,
		VaultAccess:      agentFlags.vaults,
		RetrievalMethod:  model.RetrievalMethod(agentFlags.retrieval),
		TopK:             agentFlags.topK,
		LLMModel:         agentFlags.llmModel,
		Temperature:      agentFlags.temperature,
	}
}

func printAgent(cmd *cobra.Command, agent *model.Agent) error {
	if asJSON {
		return printJSON(cmd.OutOrStdout(), agent)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Agent %s (%s) reads %d vault(s)\n", agent.Name, agent.ID, len(agent.VaultAccess))
	return nil
}

func init() {
	for _, c := range []*cobra.Command{agentCreateCmd, agentUpdateCmd} {
		f := c.Flags()
		f.StringVar(&agentFlags.name, "name", "", "Agent name (at least 3 characters)")
		f.StringVar(&agentFlags.instructions, "instructions", "", "Role instructions")
		f.StringSliceVar(&agentFlags.vaults, "vault", nil, "Vault id the agent may read (repeatable)")
		f.StringVar(&agentFlags.retrieval, "retrieval", string(model.RetrievalGlobal), "Retrieval method: global or local")
		f.IntVar(&agentFlags.topK, "top-k", model.DefaultTopK, "Chunks retrieved per question (1-50)")
		f.StringVar(&agentFlags.llmModel, "model", model.DefaultLLMModel, "One of: "+strings.Join(model.SupportedModels, ", "))
		f.Float64Var(&agentFlags.temperature, "temperature", model.DefaultTemperature, "Sampling temperature (0-2)")
	}
	agentCmd.AddCommand(agentCreateCmd, agentUpdateCmd, agentListCmd, agentShowCmd, agentDeleteCmd)
}
